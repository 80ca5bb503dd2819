package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// Starter starts executions of registered definitions on an Engine. Like the
// managed engine it reports job failures through events, not to the caller.
type Starter struct {
	Engine *Engine

	mu          sync.Mutex
	definitions map[string]*model.Definition
	executions  []*Execution
}

// Add makes def startable by its name
func (s *Starter) Add(def *model.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.definitions == nil {
		s.definitions = make(map[string]*model.Definition)
	}
	s.definitions[def.Name] = def
}

func (s *Starter) StartPipelineExecution(ctx context.Context, pipeline string, params []model.ParameterValue) (string, error) {
	s.mu.Lock()
	def, ok := s.definitions[pipeline]
	s.mu.Unlock()
	if !ok {
		return "", errs.Platform("start pipeline execution", fmt.Errorf("pipeline %s: %w", pipeline, errs.ErrNotFound))
	}

	exec, err := s.Engine.Run(ctx, def, params)
	if exec == nil {
		return "", errs.Platform("start pipeline execution", err)
	}

	s.mu.Lock()
	s.executions = append(s.executions, exec)
	s.mu.Unlock()

	if err != nil && !errors.Is(err, errs.ErrJobFailure) && !errors.Is(err, errs.ErrPlatform) {
		return exec.ARN, err
	}
	return exec.ARN, nil
}

// Executions lists every execution started so far
func (s *Starter) Executions() []*Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Execution(nil), s.executions...)
}
