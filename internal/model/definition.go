package model

// ParameterType is the declared type of a pipeline parameter
type ParameterType string

const (
	ParameterString  ParameterType = "String"
	ParameterInteger ParameterType = "Integer"
	ParameterFloat   ParameterType = "Float"
)

// Parameter is a named, typed pipeline input with a default
type Parameter struct {
	Name    string        `yaml:"name" json:"name"`
	Type    ParameterType `yaml:"type" json:"type"`
	Default any           `yaml:"default,omitempty" json:"default,omitempty"`
}

// ParameterValue binds a parameter name to a value for one execution
type ParameterValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Definition is an ordered pipeline of steps plus its parameters.
// It is plain data: building one never talks to a platform.
type Definition struct {
	Name       string      `yaml:"name" json:"name"`
	Parameters []Parameter `yaml:"parameters" json:"parameters"`
	Steps      []Step      `yaml:"steps" json:"steps"`
}

// Walk visits every step in declaration order, descending into condition
// branches right after the condition step that owns them.
func (d *Definition) Walk(fn func(step *Step)) {
	walkSteps(d.Steps, fn)
}

func walkSteps(steps []Step, fn func(step *Step)) {
	for i := range steps {
		fn(&steps[i])
		if steps[i].Condition != nil {
			walkSteps(steps[i].Condition.IfSteps, fn)
			walkSteps(steps[i].Condition.ElseSteps, fn)
		}
	}
}

// AllSteps flattens the definition in declaration order
func (d *Definition) AllSteps() []*Step {
	var out []*Step
	d.Walk(func(s *Step) { out = append(out, s) })
	return out
}

// Step finds a step by name, including steps nested in branches
func (d *Definition) Step(name string) *Step {
	var found *Step
	d.Walk(func(s *Step) {
		if found == nil && s.Name == name {
			found = s
		}
	})
	return found
}

// Parameter finds a declared parameter by name
func (d *Definition) Parameter(name string) *Parameter {
	for i := range d.Parameters {
		if d.Parameters[i].Name == name {
			return &d.Parameters[i]
		}
	}
	return nil
}

// HasKind reports whether any step of the given kind is present
func (d *Definition) HasKind(kind StepKind) bool {
	has := false
	d.Walk(func(s *Step) {
		if s.Kind == kind {
			has = true
		}
	})
	return has
}
