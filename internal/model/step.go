package model

// StepKind identifies the variant of a step
type StepKind string

const (
	StepProcessing    StepKind = "Processing"
	StepTraining      StepKind = "Training"
	StepCondition     StepKind = "Condition"
	StepRegisterModel StepKind = "RegisterModel"
	StepDeploy        StepKind = "Deploy"
)

// Step is one node of a pipeline definition. Which of the optional blocks
// is set depends on Kind.
type Step struct {
	Name          string         `yaml:"name" json:"name"`
	Kind          StepKind       `yaml:"kind" json:"kind"`
	Job           *JobSpec       `yaml:"job,omitempty" json:"job,omitempty"`
	Inputs        []Input        `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs       []Output       `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Arguments     []Argument     `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	PropertyFiles []PropertyFile `yaml:"propertyFiles,omitempty" json:"propertyFiles,omitempty"`
	Condition     *Condition     `yaml:"condition,omitempty" json:"condition,omitempty"`
	Register      *RegisterSpec  `yaml:"register,omitempty" json:"register,omitempty"`
}

// JobSpec describes the external job a step submits.
// Code is the script path in the source tree. CodeURI is where the platform
// fetches it from: the script itself for processing jobs, a gzipped tar of
// it for training jobs.
type JobSpec struct {
	Image         string   `yaml:"image" json:"image"`
	Command       []string `yaml:"command,omitempty" json:"command,omitempty"`
	Code          string   `yaml:"code,omitempty" json:"code,omitempty"`
	CodeURI       string   `yaml:"codeUri,omitempty" json:"codeUri,omitempty"`
	InstanceType  string   `yaml:"instanceType" json:"instanceType"`
	InstanceCount int      `yaml:"instanceCount" json:"instanceCount"`
	BaseJobName   string   `yaml:"baseJobName,omitempty" json:"baseJobName,omitempty"`
}

// Input binds a source location to a path inside the job container
type Input struct {
	Name        string `yaml:"name" json:"name"`
	Source      Value  `yaml:"source" json:"source"`
	Destination string `yaml:"destination,omitempty" json:"destination,omitempty"`
}

// Output is a named artifact a job leaves at Destination
type Output struct {
	Name        string `yaml:"name" json:"name"`
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	Destination Value  `yaml:"destination" json:"destination"`
}

// Argument is one ordered key/value passed to the job
type Argument struct {
	Key   string `yaml:"key" json:"key"`
	Value Value  `yaml:"value" json:"value"`
}

// PropertyFile declares that an output holds a JSON document readable by conditions
type PropertyFile struct {
	Name   string `yaml:"name" json:"name"`
	Output string `yaml:"output" json:"output"`
	Path   string `yaml:"path" json:"path"`
}

// Operator is a comparison used by a condition
type Operator string

const (
	LessThanOrEqualTo    Operator = "LessThanOrEqualTo"
	LessThan             Operator = "LessThan"
	GreaterThan          Operator = "GreaterThan"
	GreaterThanOrEqualTo Operator = "GreaterThanOrEqualTo"
	Equals               Operator = "Equals"
)

// Predicate compares Left (a property file lookup) against Right (a literal)
type Predicate struct {
	Operator Operator `yaml:"operator" json:"operator"`
	Left     Value    `yaml:"left" json:"left"`
	Right    Value    `yaml:"right" json:"right"`
}

// Condition schedules exactly one of its branches
type Condition struct {
	Predicate Predicate `yaml:"predicate" json:"predicate"`
	IfSteps   []Step    `yaml:"ifSteps" json:"ifSteps"`
	ElseSteps []Step    `yaml:"elseSteps" json:"elseSteps"`
}

// RegisterSpec is the request a RegisterModel step sends to the registry
type RegisterSpec struct {
	Group              string         `yaml:"group" json:"group"`
	Image              string         `yaml:"image" json:"image"`
	ModelData          Value          `yaml:"modelData" json:"modelData"`
	Metrics            Value          `yaml:"metrics" json:"metrics"`
	ContentTypes       []string       `yaml:"contentTypes" json:"contentTypes"`
	ResponseTypes      []string       `yaml:"responseTypes" json:"responseTypes"`
	InferenceInstances []string       `yaml:"inferenceInstances" json:"inferenceInstances"`
	TransformInstances []string       `yaml:"transformInstances" json:"transformInstances"`
	ApprovalStatus     ApprovalStatus `yaml:"approvalStatus" json:"approvalStatus"`
	Description        string         `yaml:"description" json:"description"`
}

// Values lists every Value the step reads, inputs first
func (s *Step) Values() []Value {
	var vs []Value
	for _, in := range s.Inputs {
		vs = append(vs, in.Source)
	}
	for _, out := range s.Outputs {
		vs = append(vs, out.Destination)
	}
	for _, arg := range s.Arguments {
		vs = append(vs, arg.Value)
	}
	if s.Condition != nil {
		vs = append(vs, s.Condition.Predicate.Left, s.Condition.Predicate.Right)
	}
	if s.Register != nil {
		vs = append(vs, s.Register.ModelData, s.Register.Metrics)
	}
	return vs
}

// Output finds a declared output by name
func (s *Step) Output(name string) *Output {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i]
		}
	}
	return nil
}

// PropertyFile finds a declared property file by name
func (s *Step) PropertyFile(name string) *PropertyFile {
	for i := range s.PropertyFiles {
		if s.PropertyFiles[i].Name == name {
			return &s.PropertyFiles[i]
		}
	}
	return nil
}
