package pipeline

import (
	"fmt"
	"strings"

	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/planner"
)

// Step, output and parameter names of the training pipeline
const (
	StepPreprocessing = "NYCTaxiPreprocessing"
	StepTraining      = "NYCTaxiTraining"
	StepEvaluation    = "NYCTaxiEvaluation"
	StepRMSECheck     = "RMSECheck"
	StepRegisterModel = "RegisterModel"

	OutputProcessed  = "processed"
	OutputModel      = "model"
	OutputEvaluation = "evaluation"

	PropertyFileEvaluation = "EvaluationReport"
	EvaluationFile         = "evaluation.json"

	ParamUnifiedBucket = "UnifiedBucket"
	ParamNEstimators   = "n_estimators"
)

// TrainingParams configures the training pipeline. Zero fields fall back to
// DefaultTrainingParams. A nil Threshold means the default; zero and negative
// thresholds are kept as given.
type TrainingParams struct {
	Name        string
	Bucket      string
	NEstimators int
	MaxDepth    int
	RandomState int
	Target      string
	TrainFile   string
	TestFile    string
	InputFile   string

	MetricPath string
	Threshold  *float64
	Operator   model.Operator

	ProcessingImage        string
	TrainingImage          string
	InferenceImage         string
	ProcessingInstanceType string
	TrainingInstanceType   string
	InferenceInstanceType  string
	TransformInstanceType  string

	ModelPackageGroup string
	Description       string

	// CodePrefix is the key prefix under Bucket that job code is staged to
	CodePrefix string
}

// DefaultTrainingParams returns the production settings of the fare model
func DefaultTrainingParams() TrainingParams {
	return TrainingParams{
		Name:                   "NYCTaxiFarePredictionPipeline",
		NEstimators:            200,
		MaxDepth:               10,
		RandomState:            58,
		Target:                 "fare_amount",
		TrainFile:              "train.csv",
		TestFile:               "test.csv",
		InputFile:              "yellow_tripdata_v1.parquet",
		MetricPath:             "test_score.RMSE",
		Threshold:              Float64(3000),
		Operator:               model.LessThanOrEqualTo,
		ProcessingImage:        DefaultSKLearnImage,
		TrainingImage:          DefaultSKLearnImage,
		InferenceImage:         DefaultSKLearnImage,
		ProcessingInstanceType: "ml.t3.xlarge",
		TrainingInstanceType:   "ml.m5.xlarge",
		InferenceInstanceType:  "ml.m5.large",
		TransformInstanceType:  "ml.m5.xlarge",
		ModelPackageGroup:      "NYCTaxiFareModels",
		Description:            "NYC Taxi Fare Prediction model",
		CodePrefix:             "code",
	}
}

// Float64 returns a pointer to v, for optional numeric params
func Float64(v float64) *float64 {
	return &v
}

// DefaultSKLearnImage is the scikit-learn 1.2-1 framework image in us-east-1
const DefaultSKLearnImage = "683313688378.dkr.ecr.us-east-1.amazonaws.com/sagemaker-scikit-learn:1.2-1-cpu-py3"

func (p TrainingParams) withDefaults() TrainingParams {
	d := DefaultTrainingParams()
	fillString(&p.Name, d.Name)
	fillInt(&p.NEstimators, d.NEstimators)
	fillInt(&p.MaxDepth, d.MaxDepth)
	fillInt(&p.RandomState, d.RandomState)
	fillString(&p.Target, d.Target)
	fillString(&p.TrainFile, d.TrainFile)
	fillString(&p.TestFile, d.TestFile)
	fillString(&p.InputFile, d.InputFile)
	fillString(&p.MetricPath, d.MetricPath)
	if p.Operator == "" {
		p.Operator = d.Operator
	}
	if p.Threshold == nil {
		p.Threshold = d.Threshold
	}
	fillString(&p.ProcessingImage, d.ProcessingImage)
	fillString(&p.TrainingImage, d.TrainingImage)
	fillString(&p.InferenceImage, d.InferenceImage)
	fillString(&p.ProcessingInstanceType, d.ProcessingInstanceType)
	fillString(&p.TrainingInstanceType, d.TrainingInstanceType)
	fillString(&p.InferenceInstanceType, d.InferenceInstanceType)
	fillString(&p.TransformInstanceType, d.TransformInstanceType)
	fillString(&p.ModelPackageGroup, d.ModelPackageGroup)
	fillString(&p.Description, d.Description)
	fillString(&p.CodePrefix, d.CodePrefix)
	return p
}

// codeURI is the staged location of a job's code. Without a bucket there is
// nowhere to stage it and the job carries no location.
func (p TrainingParams) codeURI(name string) string {
	if p.Bucket == "" {
		return ""
	}
	return fmt.Sprintf("s3://%s/%s/%s", p.Bucket, strings.Trim(p.CodePrefix, "/"), name)
}

// SourceArchive is the name training code is packed under
const SourceArchive = "sourcedir.tar.gz"

// BuildTraining assembles the training definition. It performs no I/O.
// With registerModel false the metric gate and everything after it are left
// out, so the result can be validated without registering anything.
func BuildTraining(params TrainingParams, registerModel bool) (*model.Definition, error) {
	p := params.withDefaults()

	bucket := func(path string) model.Value {
		return model.JoinOn("/", model.Lit("s3:/"), model.Param(ParamUnifiedBucket), model.Lit(path))
	}

	preprocess := model.Step{
		Name: StepPreprocessing,
		Kind: model.StepProcessing,
		Job: &model.JobSpec{
			Image:         p.ProcessingImage,
			Command:       []string{"python3"},
			Code:          "src/preprocessing/load_data.py",
			CodeURI:       p.codeURI("preprocessing/load_data.py"),
			InstanceType:  p.ProcessingInstanceType,
			InstanceCount: 1,
			BaseJobName:   "nyc-taxi-preprocess",
		},
		Inputs: []model.Input{
			{Name: "input-1", Source: bucket("data/raw/v1"), Destination: "/opt/ml/processing/input"},
		},
		Outputs: []model.Output{
			{Name: OutputProcessed, Source: "/opt/ml/processing/output", Destination: bucket("data/processed/v1")},
		},
		Arguments: []model.Argument{
			{Key: "--input_file_path", Value: model.Lit("/opt/ml/processing/input/" + p.InputFile)},
			{Key: "--output_train_file_path", Value: model.Lit("/opt/ml/processing/output/" + p.TrainFile)},
			{Key: "--output_test_file_path", Value: model.Lit("/opt/ml/processing/output/" + p.TestFile)},
			{Key: "--target", Value: model.Lit(p.Target)},
		},
	}

	train := model.Step{
		Name: StepTraining,
		Kind: model.StepTraining,
		Job: &model.JobSpec{
			Image:         p.TrainingImage,
			Code:          "src/training/train_model.py",
			CodeURI:       p.codeURI("training/" + SourceArchive),
			InstanceType:  p.TrainingInstanceType,
			InstanceCount: 1,
		},
		Inputs: []model.Input{
			{Name: "train", Source: model.Ref(StepPreprocessing, OutputProcessed)},
		},
		Outputs: []model.Output{
			{Name: OutputModel, Source: "/opt/ml/model", Destination: bucket("models")},
		},
		Arguments: []model.Argument{
			{Key: "n_estimators", Value: model.Param(ParamNEstimators)},
			{Key: "max_depth", Value: model.Lit(p.MaxDepth)},
			{Key: "random_state", Value: model.Lit(p.RandomState)},
			{Key: "train_file_name", Value: model.Lit(p.TrainFile)},
			{Key: "target", Value: model.Lit(p.Target)},
		},
	}

	evaluate := model.Step{
		Name: StepEvaluation,
		Kind: model.StepProcessing,
		Job: &model.JobSpec{
			Image:         p.ProcessingImage,
			Command:       []string{"python3"},
			Code:          "src/evaluation/evaluate.py",
			CodeURI:       p.codeURI("evaluation/evaluate.py"),
			InstanceType:  p.ProcessingInstanceType,
			InstanceCount: 1,
			BaseJobName:   "nyc-taxi-evaluation",
		},
		Inputs: []model.Input{
			{Name: "model", Source: model.Ref(StepTraining, OutputModel), Destination: "/opt/ml/processing/model"},
			{Name: "data", Source: model.Ref(StepPreprocessing, OutputProcessed), Destination: "/opt/ml/processing/input"},
		},
		Outputs: []model.Output{
			{Name: OutputEvaluation, Source: "/opt/ml/processing/evaluation", Destination: bucket("evaluation")},
		},
		Arguments: []model.Argument{
			{Key: "--model_name", Value: model.Lit("model.pkl")},
			{Key: "--model_dir", Value: model.Lit("/opt/ml/processing/model")},
			{Key: "--data_dir", Value: model.Lit("/opt/ml/processing/input")},
			{Key: "--train_file_name", Value: model.Lit(p.TrainFile)},
			{Key: "--test_file_name", Value: model.Lit(p.TestFile)},
			{Key: "--target", Value: model.Lit(p.Target)},
		},
		PropertyFiles: []model.PropertyFile{
			{Name: PropertyFileEvaluation, Output: OutputEvaluation, Path: EvaluationFile},
		},
	}

	def := &model.Definition{
		Name: p.Name,
		Parameters: []model.Parameter{
			{Name: ParamUnifiedBucket, Type: model.ParameterString, Default: p.Bucket},
			{Name: ParamNEstimators, Type: model.ParameterInteger, Default: p.NEstimators},
		},
		Steps: []model.Step{preprocess, train, evaluate},
	}

	if registerModel {
		def.Steps = append(def.Steps, metricGate(p))
	}

	if err := planner.Validate(def); err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", p.Name, err)
	}
	return def, nil
}

func metricGate(p TrainingParams) model.Step {
	register := model.Step{
		Name: StepRegisterModel,
		Kind: model.StepRegisterModel,
		Register: &model.RegisterSpec{
			Group:              p.ModelPackageGroup,
			Image:              p.InferenceImage,
			ModelData:          model.Ref(StepTraining, OutputModel),
			Metrics:            model.JoinOn("/", model.Ref(StepEvaluation, OutputEvaluation), model.Lit(EvaluationFile)),
			ContentTypes:       []string{"text/csv"},
			ResponseTypes:      []string{"text/csv"},
			InferenceInstances: []string{p.InferenceInstanceType},
			TransformInstances: []string{p.TransformInstanceType},
			ApprovalStatus:     model.PendingManualApproval,
			Description:        p.Description,
		},
	}

	return model.Step{
		Name: StepRMSECheck,
		Kind: model.StepCondition,
		Condition: &model.Condition{
			Predicate: model.Predicate{
				Operator: p.Operator,
				Left:     model.JsonGetOf(StepEvaluation, PropertyFileEvaluation, p.MetricPath),
				Right:    model.Lit(*p.Threshold),
			},
			IfSteps:   []model.Step{register},
			ElseSteps: []model.Step{},
		},
	}
}

func fillString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func fillInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}
