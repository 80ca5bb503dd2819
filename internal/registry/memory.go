package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// Memory is an in-process registry for local runs and tests
type Memory struct {
	mu       sync.Mutex
	prefix   string
	now      func() time.Time
	packages map[string]*model.ModelPackage
	versions map[string]int
	order    []string
}

// NewMemory creates an empty registry whose ARNs start with prefix,
// e.g. "arn:aws:sagemaker:local:000000000000".
func NewMemory(prefix string) *Memory {
	if prefix == "" {
		prefix = "arn:aws:sagemaker:local:000000000000"
	}
	return &Memory{
		prefix:   prefix,
		now:      time.Now,
		packages: make(map[string]*model.ModelPackage),
		versions: make(map[string]int),
	}
}

// WithClock replaces the clock used for timestamps
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Register(_ context.Context, in RegisterInput) (*model.ModelPackage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// groups differing only in case share one ARN namespace
	key := strings.ToLower(in.Group)
	version := m.versions[key] + 1
	arn := fmt.Sprintf("%s:model-package/%s/%d", m.prefix, key, version)
	if _, exists := m.packages[arn]; exists {
		return nil, errs.Platform("create model package", fmt.Errorf("%s: %w", arn, errs.ErrAlreadyExists))
	}
	m.versions[key] = version

	pkg := &model.ModelPackage{
		ARN:          arn,
		Group:        in.Group,
		Version:      version,
		ModelDataURL: in.ModelDataURL,
		MetricsURL:   in.MetricsURL,
		Description:  in.Description,
		Status:       model.PendingManualApproval,
		CreatedAt:    m.now().UTC(),
	}
	m.packages[arn] = pkg
	m.order = append(m.order, arn)
	return clonePackage(pkg), nil
}

func (m *Memory) Describe(_ context.Context, arn string) (*model.ModelPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[arn]
	if !ok {
		return nil, fmt.Errorf("model package %s: %w", arn, errs.ErrNotFound)
	}
	return clonePackage(pkg), nil
}

func (m *Memory) UpdateApprovalStatus(_ context.Context, arn string, status model.ApprovalStatus) (*model.ModelPackage, error) {
	if err := CheckDecision(arn, status); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pkg, ok := m.packages[arn]
	if !ok {
		return nil, fmt.Errorf("model package %s: %w", arn, errs.ErrNotFound)
	}
	if pkg.Status.CanTransition(status) {
		decided := m.now().UTC()
		pkg.Status = status
		pkg.DecidedAt = &decided
	}
	return clonePackage(pkg), nil
}

// List returns every package in registration order
func (m *Memory) List() []*model.ModelPackage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.ModelPackage, 0, len(m.order))
	for _, arn := range m.order {
		out = append(out, clonePackage(m.packages[arn]))
	}
	return out
}

func clonePackage(p *model.ModelPackage) *model.ModelPackage {
	c := *p
	if p.DecidedAt != nil {
		d := *p.DecidedAt
		c.DecidedAt = &d
	}
	return &c
}
