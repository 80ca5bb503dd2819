package planner

import (
	"github.com/pkg/errors"

	"github.com/sourceplane/fareflow/internal/model"
)

// Plan is a validated definition plus the order its steps may run in
type Plan struct {
	Definition *model.Definition
	Order      []string
	DependsOn  map[string][]string
	Graph      *StepGraph
}

// Validate checks that def is acyclic, that step names are unique and that
// every reference points at an output of a step declared earlier.
func Validate(def *model.Definition) error {
	_, err := NewStepGraph(def)
	return err
}

// NewPlan validates def and computes its execution order
func NewPlan(def *model.Definition) (*Plan, error) {
	sg, err := NewStepGraph(def)
	if err != nil {
		return nil, err
	}

	order, err := sg.Order()
	if err != nil {
		return nil, err
	}

	deps := make(map[string][]string, len(order))
	for _, name := range order {
		upstream, err := sg.DependsOn(name)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to resolve dependencies of %s", name)
		}
		deps[name] = upstream
	}

	return &Plan{
		Definition: def,
		Order:      order,
		DependsOn:  deps,
		Graph:      sg,
	}, nil
}
