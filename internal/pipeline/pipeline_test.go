package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/pipeline"
	"github.com/sourceplane/fareflow/internal/planner"
)

func TestBuildTrainingWithoutRegistration(t *testing.T) {
	t.Parallel()

	def, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: "fares"}, false)
	require.NoError(t, err)

	assert.Equal(t, "NYCTaxiFarePredictionPipeline", def.Name)
	assert.False(t, def.HasKind(model.StepCondition))
	assert.False(t, def.HasKind(model.StepRegisterModel))

	var names []string
	for _, s := range def.AllSteps() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{pipeline.StepPreprocessing, pipeline.StepTraining, pipeline.StepEvaluation}, names)
}

func TestBuildTrainingWithRegistration(t *testing.T) {
	t.Parallel()

	def, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: "fares"}, true)
	require.NoError(t, err)

	assert.True(t, def.HasKind(model.StepCondition))
	assert.True(t, def.HasKind(model.StepRegisterModel))

	check := def.Step(pipeline.StepRMSECheck)
	require.NotNil(t, check)
	pred := check.Condition.Predicate
	assert.Equal(t, model.LessThanOrEqualTo, pred.Operator)
	assert.Equal(t, &model.JsonGet{Step: pipeline.StepEvaluation, PropertyFile: pipeline.PropertyFileEvaluation, Path: "test_score.RMSE"}, pred.Left.JsonGet)
	threshold, ok := pred.Right.Float()
	require.True(t, ok)
	assert.Equal(t, 3000.0, threshold)
	require.Len(t, check.Condition.IfSteps, 1)
	assert.Empty(t, check.Condition.ElseSteps)

	register := check.Condition.IfSteps[0].Register
	assert.Equal(t, "NYCTaxiFareModels", register.Group)
	assert.Equal(t, model.PendingManualApproval, register.ApprovalStatus)
	assert.Equal(t, []string{"ml.m5.large"}, register.InferenceInstances)
}

func TestBuildTrainingIsPure(t *testing.T) {
	t.Parallel()

	a, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: "fares"}, true)
	require.NoError(t, err)
	b, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: "fares"}, true)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestBuildTrainingKeepsReferencesLazy(t *testing.T) {
	t.Parallel()

	def, err := pipeline.BuildTraining(pipeline.TrainingParams{}, true)
	require.NoError(t, err)

	train := def.Step(pipeline.StepTraining)
	require.NotNil(t, train)
	assert.Equal(t, model.ValueOutput, train.Inputs[0].Source.Kind)
	assert.Equal(t, &model.OutputReference{Step: pipeline.StepPreprocessing, Output: pipeline.OutputProcessed}, train.Inputs[0].Source.Output)

	plan, err := planner.NewPlan(def)
	require.NoError(t, err)
	assert.Equal(t, []string{
		pipeline.StepPreprocessing,
		pipeline.StepTraining,
		pipeline.StepEvaluation,
		pipeline.StepRMSECheck,
		pipeline.StepRegisterModel,
	}, plan.Order)
}

func TestBuildTrainingCustomThreshold(t *testing.T) {
	t.Parallel()

	def, err := pipeline.BuildTraining(pipeline.TrainingParams{Threshold: pipeline.Float64(2.5)}, true)
	require.NoError(t, err)

	got, _ := def.Step(pipeline.StepRMSECheck).Condition.Predicate.Right.Float()
	assert.Equal(t, 2.5, got)
}

func TestBuildTrainingKeepsZeroAndNegativeThresholds(t *testing.T) {
	t.Parallel()

	for _, threshold := range []float64{0, -1.5} {
		def, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: "b", Threshold: pipeline.Float64(threshold)}, true)
		require.NoError(t, err)

		got, ok := def.Step(pipeline.StepRMSECheck).Condition.Predicate.Right.Float()
		require.True(t, ok)
		assert.Equal(t, threshold, got)
	}
}

func TestBuildDeployment(t *testing.T) {
	t.Parallel()

	def, err := pipeline.BuildDeployment(pipeline.DeploymentParams{})
	require.NoError(t, err)

	assert.Equal(t, "NYCTaxiDeployPipeline", def.Name)
	endpoint := def.Parameter(pipeline.ParamEndpointName)
	require.NotNil(t, endpoint)
	assert.Equal(t, "nyc-taxi-fare-endpoint", endpoint.Default)
	require.NotNil(t, def.Parameter(pipeline.ParamModelPackageArn))
	require.Len(t, def.Steps, 1)
	assert.Equal(t, model.StepDeploy, def.Steps[0].Kind)
}
