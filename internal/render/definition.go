package render

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/sourceplane/fareflow/internal/model"
)

// DefinitionVersion is the pipeline definition schema the platform accepts
const DefinitionVersion = "2020-12-01"

const (
	// CodeInputName is the processing input that delivers a job's script
	CodeInputName = "code"
	codeDir       = "/opt/ml/processing/input/code"
)

// PlatformDefinition is the JSON document submitted to the managed engine
type PlatformDefinition struct {
	Version    string              `json:"Version"`
	Metadata   map[string]any      `json:"Metadata"`
	Parameters []PlatformParameter `json:"Parameters"`
	Steps      []PlatformStep      `json:"Steps"`
}

type PlatformParameter struct {
	Name         string `json:"Name"`
	Type         string `json:"Type"`
	DefaultValue any    `json:"DefaultValue,omitempty"`
}

type PlatformStep struct {
	Name          string                 `json:"Name"`
	Type          string                 `json:"Type"`
	Arguments     map[string]any         `json:"Arguments"`
	PropertyFiles []PlatformPropertyFile `json:"PropertyFiles,omitempty"`
}

type PlatformPropertyFile struct {
	PropertyFileName string `json:"PropertyFileName"`
	OutputName       string `json:"OutputName"`
	FilePath         string `json:"FilePath"`
}

// Platform translates def into the engine's definition format. Placeholders
// become Get, Std:Join and Std:JsonGet expressions the engine resolves at
// execution time.
func Platform(def *model.Definition, roleARN string) (*PlatformDefinition, error) {
	pd := &PlatformDefinition{
		Version:    DefinitionVersion,
		Metadata:   map[string]any{},
		Parameters: make([]PlatformParameter, 0, len(def.Parameters)),
	}
	for _, p := range def.Parameters {
		pd.Parameters = append(pd.Parameters, PlatformParameter{Name: p.Name, Type: string(p.Type), DefaultValue: p.Default})
	}

	t := translator{def: def, role: roleARN}
	steps, err := t.steps(def.Steps)
	if err != nil {
		return nil, err
	}
	pd.Steps = steps
	return pd, nil
}

// PlatformJSON renders def as an indented platform definition
func PlatformJSON(def *model.Definition, roleARN string) ([]byte, error) {
	pd, err := Platform(def, roleARN)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(pd, "", "  ")
}

type translator struct {
	def  *model.Definition
	role string
}

func (t translator) steps(steps []model.Step) ([]PlatformStep, error) {
	out := make([]PlatformStep, 0, len(steps))
	for i := range steps {
		ps, err := t.step(&steps[i])
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", steps[i].Name, err)
		}
		out = append(out, ps)
	}
	return out, nil
}

func (t translator) step(s *model.Step) (PlatformStep, error) {
	switch s.Kind {
	case model.StepProcessing, model.StepDeploy:
		return t.processing(s)
	case model.StepTraining:
		return t.training(s)
	case model.StepCondition:
		return t.condition(s)
	case model.StepRegisterModel:
		return t.register(s)
	}
	return PlatformStep{}, fmt.Errorf("unsupported step kind %q", s.Kind)
}

func (t translator) processing(s *model.Step) (PlatformStep, error) {
	entrypoint := append([]string(nil), s.Job.Command...)
	if s.Job.Code != "" {
		entrypoint = append(entrypoint, path.Join(codeDir, path.Base(s.Job.Code)))
	}

	var args []any
	for _, a := range s.Arguments {
		args = append(args, a.Key, t.expr(a.Value))
	}

	inputs := []any{}
	for _, in := range s.Inputs {
		inputs = append(inputs, map[string]any{
			"InputName":  in.Name,
			"AppManaged": false,
			"S3Input": map[string]any{
				"S3Uri":       t.expr(in.Source),
				"LocalPath":   in.Destination,
				"S3DataType":  "S3Prefix",
				"S3InputMode": "File",
			},
		})
	}
	if s.Job.Code != "" && s.Job.CodeURI != "" {
		inputs = append(inputs, map[string]any{
			"InputName":  CodeInputName,
			"AppManaged": false,
			"S3Input": map[string]any{
				"S3Uri":       s.Job.CodeURI,
				"LocalPath":   codeDir,
				"S3DataType":  "S3Prefix",
				"S3InputMode": "File",
			},
		})
	}
	outputs := []any{}
	for _, o := range s.Outputs {
		outputs = append(outputs, map[string]any{
			"OutputName": o.Name,
			"AppManaged": false,
			"S3Output": map[string]any{
				"S3Uri":        t.expr(o.Destination),
				"LocalPath":    o.Source,
				"S3UploadMode": "EndOfJob",
			},
		})
	}

	appSpec := map[string]any{
		"ImageUri":            s.Job.Image,
		"ContainerEntrypoint": entrypoint,
	}
	if len(args) > 0 {
		appSpec["ContainerArguments"] = args
	}

	ps := PlatformStep{
		Name: s.Name,
		Type: "Processing",
		Arguments: map[string]any{
			"ProcessingResources": map[string]any{
				"ClusterConfig": map[string]any{
					"InstanceType":   s.Job.InstanceType,
					"InstanceCount":  s.Job.InstanceCount,
					"VolumeSizeInGB": 30,
				},
			},
			"AppSpecification":       appSpec,
			"RoleArn":                t.role,
			"ProcessingInputs":       inputs,
			"ProcessingOutputConfig": map[string]any{"Outputs": outputs},
		},
	}
	if s.Kind == model.StepDeploy && t.role != "" {
		// fareflow deploy reads its execution role from the environment
		ps.Arguments["Environment"] = map[string]any{"FAREFLOW_ROLE_ARN": t.role}
	}
	for _, pf := range s.PropertyFiles {
		ps.PropertyFiles = append(ps.PropertyFiles, PlatformPropertyFile{
			PropertyFileName: pf.Name,
			OutputName:       pf.Output,
			FilePath:         pf.Path,
		})
	}
	return ps, nil
}

func (t translator) training(s *model.Step) (PlatformStep, error) {
	hyper := map[string]any{}
	for _, a := range s.Arguments {
		hyper[a.Key] = t.str(a.Value)
	}
	if s.Job.Code != "" {
		hyper["sagemaker_program"] = path.Base(s.Job.Code)
	}
	if s.Job.CodeURI != "" {
		hyper["sagemaker_submit_directory"] = s.Job.CodeURI
	}

	var channels []any
	for _, in := range s.Inputs {
		channels = append(channels, map[string]any{
			"ChannelName": in.Name,
			"DataSource": map[string]any{
				"S3DataSource": map[string]any{
					"S3DataType":             "S3Prefix",
					"S3Uri":                  t.expr(in.Source),
					"S3DataDistributionType": "FullyReplicated",
				},
			},
		})
	}

	outputPath := any("")
	if len(s.Outputs) > 0 {
		outputPath = t.expr(s.Outputs[0].Destination)
	}

	return PlatformStep{
		Name: s.Name,
		Type: "Training",
		Arguments: map[string]any{
			"AlgorithmSpecification": map[string]any{
				"TrainingImage":     s.Job.Image,
				"TrainingInputMode": "File",
			},
			"OutputDataConfig":  map[string]any{"S3OutputPath": outputPath},
			"StoppingCondition": map[string]any{"MaxRuntimeInSeconds": 86400},
			"ResourceConfig": map[string]any{
				"VolumeSizeInGB": 30,
				"InstanceCount":  s.Job.InstanceCount,
				"InstanceType":   s.Job.InstanceType,
			},
			"RoleArn":         t.role,
			"InputDataConfig": channels,
			"HyperParameters": hyper,
		},
	}, nil
}

func (t translator) condition(s *model.Step) (PlatformStep, error) {
	ifSteps, err := t.steps(s.Condition.IfSteps)
	if err != nil {
		return PlatformStep{}, err
	}
	elseSteps, err := t.steps(s.Condition.ElseSteps)
	if err != nil {
		return PlatformStep{}, err
	}
	right, _ := s.Condition.Predicate.Right.Float()

	return PlatformStep{
		Name: s.Name,
		Type: "Condition",
		Arguments: map[string]any{
			"Conditions": []any{map[string]any{
				"Type":       string(s.Condition.Predicate.Operator),
				"LeftValue":  t.expr(s.Condition.Predicate.Left),
				"RightValue": right,
			}},
			"IfSteps":   ifSteps,
			"ElseSteps": elseSteps,
		},
	}, nil
}

func (t translator) register(s *model.Step) (PlatformStep, error) {
	r := s.Register
	args := map[string]any{
		"ModelPackageGroupName": r.Group,
		"ModelApprovalStatus":   string(r.ApprovalStatus),
		"InferenceSpecification": map[string]any{
			"Containers": []any{map[string]any{
				"Image":        r.Image,
				"ModelDataUrl": t.expr(r.ModelData),
			}},
			"SupportedContentTypes":                   nonNil(r.ContentTypes),
			"SupportedResponseMIMETypes":              nonNil(r.ResponseTypes),
			"SupportedRealtimeInferenceInstanceTypes": nonNil(r.InferenceInstances),
			"SupportedTransformInstanceTypes":         nonNil(r.TransformInstances),
		},
		"ModelMetrics": map[string]any{
			"ModelQuality": map[string]any{
				"Statistics": map[string]any{
					"ContentType": "application/json",
					"S3Uri":       t.expr(r.Metrics),
				},
			},
		},
	}
	if r.Description != "" {
		args["ModelPackageDescription"] = r.Description
	}
	return PlatformStep{Name: s.Name, Type: "RegisterModel", Arguments: args}, nil
}

// expr renders a value as a literal or a platform expression
func (t translator) expr(v model.Value) any {
	switch v.Kind {
	case model.ValueLiteral:
		return v.Literal
	case model.ValueParameter:
		return map[string]any{"Get": "Parameters." + v.Parameter}
	case model.ValueOutput:
		return map[string]any{"Get": t.outputPath(*v.Output)}
	case model.ValueJoin:
		values := make([]any, len(v.Join.Values))
		for i, inner := range v.Join.Values {
			values[i] = t.expr(inner)
		}
		return map[string]any{"Std:Join": map[string]any{"On": v.Join.On, "Values": values}}
	case model.ValueJsonGet:
		return map[string]any{"Std:JsonGet": map[string]any{
			"PropertyFile": map[string]any{"Get": fmt.Sprintf("Steps.%s.PropertyFiles.%s", v.JsonGet.Step, v.JsonGet.PropertyFile)},
			"Path":         v.JsonGet.Path,
		}}
	}
	return nil
}

// str renders a value where the platform only takes strings: literals are
// formatted, expressions are cast through Std:Join
func (t translator) str(v model.Value) any {
	switch v.Kind {
	case model.ValueLiteral:
		return model.FormatLiteral(v.Literal)
	case model.ValueJoin:
		return t.expr(v)
	}
	return map[string]any{"Std:Join": map[string]any{"On": "", "Values": []any{t.expr(v)}}}
}

func (t translator) outputPath(ref model.OutputReference) string {
	producer := t.def.Step(ref.Step)
	if producer != nil && producer.Kind == model.StepTraining {
		return fmt.Sprintf("Steps.%s.ModelArtifacts.S3ModelArtifacts", ref.Step)
	}
	p := fmt.Sprintf("Steps.%s.ProcessingOutputConfig.Outputs['%s'].S3Output.S3Uri", ref.Step, ref.Output)
	if ref.JSONPath != "" {
		p += "." + ref.JSONPath
	}
	return p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
