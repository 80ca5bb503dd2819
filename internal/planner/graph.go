package planner

import (
	"fmt"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// StepGraph is the dependency DAG of a definition. An edge runs from the
// producer of an output to every step that reads it, and from a condition
// to the steps of both its branches.
type StepGraph struct {
	def   *model.Definition
	g     graph.Graph[string, *model.Step]
	index map[string]int
}

func stepHash(s *model.Step) string {
	return s.Name
}

// reference is an output reference together with how it was made
type reference struct {
	model.OutputReference
	viaPropertyFile bool
}

// NewStepGraph validates def and builds its step graph. Every problem found
// is reported in a single *errs.ValidationError.
func NewStepGraph(def *model.Definition) (*StepGraph, error) {
	if def == nil {
		return nil, errs.NewValidationError("definition", "definition is nil")
	}

	sg := &StepGraph{
		def:   def,
		g:     graph.New(stepHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles()),
		index: make(map[string]int),
	}

	var problems []string
	if def.Name == "" {
		problems = append(problems, "definition name is empty")
	}
	params, paramProblems := checkParameters(def.Parameters)
	problems = append(problems, paramProblems...)

	steps := def.AllSteps()
	for i, step := range steps {
		if step.Name == "" {
			problems = append(problems, fmt.Sprintf("step #%d has no name", i+1))
			continue
		}
		err := sg.g.AddVertex(step, graph.VertexAttribute("kind", string(step.Kind)))
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			problems = append(problems, fmt.Sprintf("duplicate step name %q", step.Name))
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add step %s", step.Name)
		}
		sg.index[step.Name] = i
		problems = append(problems, checkShape(step)...)
	}

	for i, step := range steps {
		if pos, ok := sg.index[step.Name]; !ok || pos != i {
			continue
		}
		for _, v := range step.Values() {
			for _, name := range v.Parameters() {
				if _, ok := params[name]; !ok {
					problems = append(problems, fmt.Sprintf("step %s uses undeclared parameter %q", step.Name, name))
				}
			}
			for _, ref := range collectReferences(v) {
				pos, ok := sg.index[ref.Step]
				switch {
				case !ok:
					problems = append(problems, fmt.Sprintf("step %s references unknown step %q", step.Name, ref.Step))
					continue
				case pos >= i:
					problems = append(problems, fmt.Sprintf("step %s references step %q which is not declared before it", step.Name, ref.Step))
					continue
				}
				problems = append(problems, checkReferenced(step, steps[pos], ref)...)
				if err := sg.link(ref.Step, step.Name); err != nil {
					problems = append(problems, err.Error())
				}
			}
		}
		if step.Condition != nil {
			for _, branch := range [][]model.Step{step.Condition.IfSteps, step.Condition.ElseSteps} {
				for _, child := range branch {
					if child.Name == "" {
						continue
					}
					if err := sg.link(step.Name, child.Name); err != nil {
						problems = append(problems, err.Error())
					}
				}
			}
		}
	}

	if len(problems) > 0 {
		return nil, errs.NewValidationError("definition "+def.Name, problems...)
	}
	return sg, nil
}

func (sg *StepGraph) link(from, to string) error {
	err := sg.g.AddEdge(from, to)
	switch {
	case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graph.ErrEdgeCreatesCycle):
		return fmt.Errorf("dependency %s -> %s creates a cycle", from, to)
	}
	return errors.Wrapf(err, "unable to add edge from %s to %s", from, to)
}

// Graph exposes the underlying graph for drawing
func (sg *StepGraph) Graph() graph.Graph[string, *model.Step] {
	return sg.g
}

// Order returns step names in dependency order, ties broken by declaration order
func (sg *StepGraph) Order() ([]string, error) {
	order, err := graph.StableTopologicalSort(sg.g, func(a, b string) bool {
		return sg.index[a] < sg.index[b]
	})
	if err != nil {
		return nil, errors.Wrap(err, "unable to sort steps")
	}
	return order, nil
}

// DependsOn lists the direct upstream steps of name in declaration order
func (sg *StepGraph) DependsOn(name string) ([]string, error) {
	preds, err := sg.g.PredecessorMap()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read predecessors")
	}
	var deps []string
	for from := range preds[name] {
		deps = append(deps, from)
	}
	sortByIndex(deps, sg.index)
	return deps, nil
}

func sortByIndex(names []string, index map[string]int) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && index[names[j-1]] > index[names[j]]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}

func collectReferences(v model.Value) []reference {
	switch v.Kind {
	case model.ValueOutput:
		if v.Output != nil {
			return []reference{{OutputReference: *v.Output}}
		}
	case model.ValueJsonGet:
		if v.JsonGet != nil {
			return []reference{{
				OutputReference: model.OutputReference{Step: v.JsonGet.Step, Output: v.JsonGet.PropertyFile, JSONPath: v.JsonGet.Path},
				viaPropertyFile: true,
			}}
		}
	case model.ValueJoin:
		if v.Join != nil {
			var refs []reference
			for _, inner := range v.Join.Values {
				refs = append(refs, collectReferences(inner)...)
			}
			return refs
		}
	}
	return nil
}

func checkReferenced(consumer, producer *model.Step, ref reference) []string {
	if ref.viaPropertyFile {
		pf := producer.PropertyFile(ref.Output)
		if pf == nil {
			return []string{fmt.Sprintf("step %s reads undeclared property file %s.%s", consumer.Name, producer.Name, ref.Output)}
		}
		if producer.Output(pf.Output) == nil {
			return []string{fmt.Sprintf("property file %s.%s names undeclared output %q", producer.Name, pf.Name, pf.Output)}
		}
		return nil
	}
	if producer.Output(ref.Output) == nil {
		return []string{fmt.Sprintf("step %s references undeclared output %s", consumer.Name, ref.OutputReference)}
	}
	return nil
}

func checkParameters(params []model.Parameter) (map[string]model.Parameter, []string) {
	byName := make(map[string]model.Parameter, len(params))
	var problems []string
	for _, p := range params {
		if p.Name == "" {
			problems = append(problems, "parameter has no name")
			continue
		}
		if _, dup := byName[p.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate parameter %q", p.Name))
			continue
		}
		switch p.Type {
		case model.ParameterString, model.ParameterInteger, model.ParameterFloat:
		default:
			problems = append(problems, fmt.Sprintf("parameter %s has unknown type %q", p.Name, p.Type))
		}
		byName[p.Name] = p
	}
	return byName, problems
}

func checkShape(step *model.Step) []string {
	switch step.Kind {
	case model.StepProcessing, model.StepTraining, model.StepDeploy:
		if step.Job == nil {
			return []string{fmt.Sprintf("step %s has no job", step.Name)}
		}
	case model.StepCondition:
		if step.Condition == nil {
			return []string{fmt.Sprintf("condition step %s has no predicate", step.Name)}
		}
		return checkPredicate(step.Name, step.Condition.Predicate)
	case model.StepRegisterModel:
		if step.Register == nil {
			return []string{fmt.Sprintf("register step %s has no registration", step.Name)}
		}
		if step.Register.Group == "" {
			return []string{fmt.Sprintf("register step %s has no model package group", step.Name)}
		}
	default:
		return []string{fmt.Sprintf("step %s has unknown kind %q", step.Name, step.Kind)}
	}
	return nil
}

func checkPredicate(name string, p model.Predicate) []string {
	var problems []string
	switch p.Operator {
	case model.LessThanOrEqualTo, model.LessThan, model.GreaterThan, model.GreaterThanOrEqualTo, model.Equals:
	default:
		problems = append(problems, fmt.Sprintf("condition %s has unknown operator %q", name, p.Operator))
	}
	if p.Left.Kind != model.ValueJsonGet || p.Left.JsonGet == nil {
		problems = append(problems, fmt.Sprintf("condition %s must read its left side from a property file", name))
	}
	if _, ok := p.Right.Float(); !ok {
		problems = append(problems, fmt.Sprintf("condition %s must compare against a numeric literal", name))
	}
	return problems
}
