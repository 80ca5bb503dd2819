package runner_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/deploy"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/handlers"
	"github.com/sourceplane/fareflow/internal/links"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/notify"
	"github.com/sourceplane/fareflow/internal/pipeline"
	"github.com/sourceplane/fareflow/internal/registry"
	"github.com/sourceplane/fareflow/internal/runner"
)

const bucket = "fare-bucket"

func metricsDoc(rmse float64) string {
	return fmt.Sprintf(`{"train_score":{"MAE":1.5,"MSE":4.0,"RMSE":2.0,"R2":0.95},"test_score":{"MAE":2.1,"MSE":%g,"RMSE":%g,"R2":0.9}}`, rmse*rmse, rmse)
}

// fakeJobs plays the processing and training jobs: the evaluation step
// writes its report, everything else just records that it ran
type fakeJobs struct {
	store  *artifact.MemoryStore
	report string
	failOn string
	ran    []runner.JobRequest
}

func (f *fakeJobs) Run(ctx context.Context, req runner.JobRequest) error {
	f.ran = append(f.ran, req)
	if req.Step == f.failOn {
		return errors.New("exit status 1")
	}
	if req.Step == pipeline.StepEvaluation && f.report != "" {
		return f.store.Put(ctx, artifact.JoinURI(req.Outputs[0].Location, pipeline.EvaluationFile), []byte(f.report))
	}
	return nil
}

func (f *fakeJobs) steps() []string {
	var out []string
	for _, r := range f.ran {
		out = append(out, r.Step)
	}
	return out
}

type world struct {
	store     *artifact.MemoryStore
	registry  *registry.Memory
	published *notify.Recorder
	endpoints *deploy.MemoryPlatform
	jobs      *fakeJobs
	starter   *runner.Starter
	engine    *runner.Engine
	approval  *handlers.Approval
	stdout    *bytes.Buffer
}

func newWorld(t *testing.T, rmse float64) *world {
	t.Helper()

	w := &world{
		store:     artifact.NewMemoryStore(),
		registry:  registry.NewMemory(""),
		published: &notify.Recorder{},
		endpoints: deploy.NewMemoryPlatform(),
		stdout:    &bytes.Buffer{},
	}
	w.jobs = &fakeJobs{store: w.store, report: metricsDoc(rmse)}

	deployer := deploy.NewDeployer(w.endpoints)
	w.engine = &runner.Engine{
		Jobs: runner.Router{
			Kinds:   map[model.StepKind]runner.JobRunner{model.StepDeploy: runner.DeployJob{Deployer: deployer}},
			Default: w.jobs,
		},
		Store:    w.store,
		Registry: w.registry,
		Stdout:   w.stdout,
	}

	w.starter = &runner.Starter{Engine: w.engine}
	deployment, err := pipeline.BuildDeployment(pipeline.DefaultDeploymentParams())
	require.NoError(t, err)
	w.starter.Add(deployment)

	policy := handlers.DefaultMetricsRetry()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	dispatcher := events.NewDispatcher(nil,
		events.Route{Name: "notify", Match: events.AnyEvent, Handler: handlers.NewNotify(handlers.NotifyConfig{
			Packages:  w.registry,
			Metrics:   artifact.NewMetricsReader(w.store, nil),
			Publisher: w.published,
			Links:     links.Builder{Base: "https://api.example.com/prod"},
			Retry:     policy,
		})},
		events.Route{Name: "deploy", Match: events.ApprovedPackages, Handler: handlers.NewTriggerDeploy(
			w.starter, deployment.Name, "", nil, nil,
		)},
	)
	w.engine.Sink = dispatcher
	w.approval = handlers.NewApproval(runner.EventingRegistry{Registry: w.registry, Sink: dispatcher}, nil, nil, nil)
	return w
}

func training(t *testing.T) *model.Definition {
	t.Helper()
	def, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: bucket, Threshold: pipeline.Float64(3000)}, true)
	require.NoError(t, err)
	return def
}

func TestModelBelowThresholdIsRegisteredApprovedAndDeployed(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3.2)
	ctx := context.Background()

	exec, err := w.engine.Run(ctx, training(t), nil)
	require.NoError(t, err)
	assert.Equal(t, events.ExecutionSucceeded, exec.Status)
	assert.Equal(t, []string{pipeline.StepPreprocessing, pipeline.StepTraining, pipeline.StepEvaluation}, w.jobs.steps())

	require.NotNil(t, exec.ModelPackage)
	pkg := exec.ModelPackage
	assert.Equal(t, model.PendingManualApproval, pkg.Status)
	assert.Equal(t, "s3://fare-bucket/evaluation/evaluation.json", pkg.MetricsURL)
	assert.Equal(t, "s3://fare-bucket/models", pkg.ModelDataURL)

	gate := exec.Steps[3]
	assert.Equal(t, pipeline.StepRMSECheck, gate.Name)
	assert.Equal(t, "if", gate.Branch)

	msgs := w.published.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, handlers.SubjectSuccess, msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "RMSE: 3.20")

	var approveLink *url.URL
	for _, line := range strings.Split(msgs[0].Body, "\n") {
		if strings.HasPrefix(line, "Approve: ") {
			approveLink, err = url.Parse(strings.TrimPrefix(line, "Approve: "))
			require.NoError(t, err)
		}
		if strings.HasPrefix(line, "Reject: ") {
			assert.Contains(t, line, url.QueryEscape(pkg.ARN))
		}
	}
	require.NotNil(t, approveLink)
	assert.Equal(t, pkg.ARN, approveLink.Query().Get("modelPackageArn"))

	resp := w.approval.Handle(ctx, handlers.ApprovalRequest{
		ModelPackageARN: approveLink.Query().Get("modelPackageArn"),
		Action:          approveLink.Query().Get("action"),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := w.registry.Describe(ctx, pkg.ARN)
	require.NoError(t, err)
	assert.Equal(t, model.Approved, got.Status)

	deployments := w.starter.Executions()
	require.Len(t, deployments, 1)
	assert.Equal(t, "NYCTaxiDeployPipeline", deployments[0].Pipeline)
	assert.Equal(t, events.ExecutionSucceeded, deployments[0].Status)

	ep, ok := w.endpoints.Endpoints()[pipeline.DefaultEndpointName]
	require.True(t, ok)
	cfg, ok := w.endpoints.Config(ep.ConfigName)
	require.True(t, ok)
	m, ok := w.endpoints.Model(cfg.ModelName)
	require.True(t, ok)
	assert.Equal(t, pkg.ARN, m.ModelPackageARN)

	// a second approve is a no-op and starts nothing new
	resp = w.approval.Handle(ctx, handlers.ApprovalRequest{ModelPackageARN: pkg.ARN, Action: "approve"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, w.starter.Executions(), 1)
}

func TestModelAboveThresholdIsNotRegistered(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 4500)

	exec, err := w.engine.Run(context.Background(), training(t), nil)
	require.NoError(t, err)
	assert.Equal(t, events.ExecutionSucceeded, exec.Status)
	assert.Nil(t, exec.ModelPackage)
	assert.Equal(t, "else", exec.Steps[len(exec.Steps)-1].Branch)

	assert.Empty(t, w.registry.List())
	assert.Empty(t, w.published.Messages())
}

func TestThresholdEqualityTakesIfBranch(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3000)

	exec, err := w.engine.Run(context.Background(), training(t), nil)
	require.NoError(t, err)
	require.NotNil(t, exec.ModelPackage)
}

func TestZeroThresholdGatesOnEquality(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		rmse       float64
		registered bool
	}{
		{rmse: 2999, registered: false},
		{rmse: 0, registered: true},
	} {
		w := newWorld(t, tc.rmse)
		def, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: bucket, Threshold: pipeline.Float64(0)}, true)
		require.NoError(t, err)

		exec, err := w.engine.Run(context.Background(), def, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.registered, exec.ModelPackage != nil, "rmse %v", tc.rmse)
	}
}

func TestJobFailureStopsTheRun(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3.2)
	w.jobs.failOn = pipeline.StepTraining

	exec, err := w.engine.Run(context.Background(), training(t), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrJobFailure)

	var failure *errs.JobFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, pipeline.StepTraining, failure.Step)

	assert.Equal(t, events.ExecutionFailed, exec.Status)
	assert.Equal(t, []string{pipeline.StepPreprocessing, pipeline.StepTraining}, w.jobs.steps())
	assert.Empty(t, w.registry.List())

	msgs := w.published.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, handlers.SubjectFailure, msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, exec.ARN)
}

func TestMissingMetricPathFailsTheRun(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3.2)
	w.jobs.report = `{"train_score":{"RMSE":1.0}}`

	exec, err := w.engine.Run(context.Background(), training(t), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPlatform)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, events.ExecutionFailed, exec.Status)
	assert.Empty(t, w.registry.List())
}

func TestValidationOnlyDefinitionRunsWithoutRegistering(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3.2)
	def, err := pipeline.BuildTraining(pipeline.TrainingParams{Bucket: bucket}, false)
	require.NoError(t, err)

	exec, err := w.engine.Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Len(t, exec.Steps, 3)
	assert.Empty(t, w.registry.List())
}

func TestParametersAreResolved(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3.2)

	_, err := w.engine.Run(context.Background(), training(t), []model.ParameterValue{
		{Name: pipeline.ParamNEstimators, Value: "50"},
		{Name: pipeline.ParamUnifiedBucket, Value: "other-bucket"},
	})
	require.NoError(t, err)

	train := w.jobs.ran[1]
	assert.Equal(t, pipeline.StepTraining, train.Step)
	assert.Contains(t, strings.Join(train.Arguments, " "), "--n_estimators 50")
	require.Len(t, train.Inputs, 1)
	assert.Equal(t, "s3://other-bucket/data/processed/v1", train.Inputs[0].Location)

	evaluate := w.jobs.ran[2]
	assert.Equal(t, "s3://other-bucket/models", evaluate.Inputs[0].Location)
}

func TestInvalidParametersAreRejectedBeforeRunning(t *testing.T) {
	t.Parallel()

	w := newWorld(t, 3.2)
	for _, values := range [][]model.ParameterValue{
		{{Name: "nope", Value: "1"}},
		{{Name: pipeline.ParamNEstimators, Value: "many"}},
	} {
		exec, err := w.engine.Run(context.Background(), training(t), values)
		assert.ErrorIs(t, err, errs.ErrValidation)
		assert.Nil(t, exec)
	}
	assert.Empty(t, w.jobs.ran)
}

func TestStarterUnknownPipeline(t *testing.T) {
	t.Parallel()

	s := &runner.Starter{Engine: &runner.Engine{}}
	_, err := s.StartPipelineExecution(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestParseDeployArgs(t *testing.T) {
	t.Parallel()

	req, err := runner.ParseDeployArgs([]string{
		"--model-package-arn", "arn:pkg/1",
		"--endpoint-name", "ep",
		"--instance-type", "ml.t3.xlarge",
		"--initial-instance-count", "2",
	})
	require.NoError(t, err)
	assert.Equal(t, deploy.Request{ModelPackageARN: "arn:pkg/1", EndpointName: "ep", InstanceType: "ml.t3.xlarge", InstanceCount: 2}, req)

	_, err = runner.ParseDeployArgs([]string{"--endpoint-name", "ep"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestDryRunPrintsCommandLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := runner.DryRun{Stdout: &out}.Run(context.Background(), runner.JobRequest{
		Step:      "NYCTaxiTraining",
		Kind:      model.StepTraining,
		Code:      "src/training/train_model.py",
		Arguments: []string{"--n_estimators", "200"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "python3 src/training/train_model.py --n_estimators 200")
}
