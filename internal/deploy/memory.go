package deploy

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// MemoryPlatform is an in-process endpoint host for local runs and tests
type MemoryPlatform struct {
	mu        sync.Mutex
	models    map[string]model.Model
	configs   map[string]model.EndpointConfig
	endpoints map[string]*model.Endpoint
}

func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		models:    make(map[string]model.Model),
		configs:   make(map[string]model.EndpointConfig),
		endpoints: make(map[string]*model.Endpoint),
	}
}

func (p *MemoryPlatform) CreateModel(_ context.Context, m model.Model) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.models[m.Name]; ok {
		return errs.Platform("create model", fmt.Errorf("model %s: %w", m.Name, errs.ErrAlreadyExists))
	}
	p.models[m.Name] = m
	return nil
}

func (p *MemoryPlatform) CreateEndpointConfig(_ context.Context, c model.EndpointConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.configs[c.Name]; ok {
		return errs.Platform("create endpoint config", fmt.Errorf("endpoint config %s: %w", c.Name, errs.ErrAlreadyExists))
	}
	if _, ok := p.models[c.ModelName]; !ok {
		return errs.Platform("create endpoint config", fmt.Errorf("model %s: %w", c.ModelName, errs.ErrNotFound))
	}
	p.configs[c.Name] = c
	return nil
}

func (p *MemoryPlatform) DescribeEndpoint(_ context.Context, name string) (*model.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("endpoint %s: %w", name, errs.ErrNotFound)
	}
	c := *ep
	return &c, nil
}

func (p *MemoryPlatform) CreateEndpoint(_ context.Context, name, configName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[name]; ok {
		return errs.Platform("create endpoint", fmt.Errorf("endpoint %s: %w", name, errs.ErrAlreadyExists))
	}
	return p.point(name, configName, "create endpoint")
}

func (p *MemoryPlatform) UpdateEndpoint(_ context.Context, name, configName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[name]; !ok {
		return errs.Platform("update endpoint", fmt.Errorf("endpoint %s: %w", name, errs.ErrNotFound))
	}
	return p.point(name, configName, "update endpoint")
}

func (p *MemoryPlatform) point(name, configName, op string) error {
	cfg, ok := p.configs[configName]
	if !ok {
		return errs.Platform(op, fmt.Errorf("endpoint config %s: %w", configName, errs.ErrNotFound))
	}
	p.endpoints[name] = &model.Endpoint{
		Name:          name,
		ConfigName:    configName,
		Status:        "InService",
		InstanceType:  cfg.InstanceType,
		InstanceCount: cfg.InstanceCount,
	}
	return nil
}

// Endpoints returns every endpoint by name
func (p *MemoryPlatform) Endpoints() map[string]model.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]model.Endpoint, len(p.endpoints))
	for name, ep := range p.endpoints {
		out[name] = *ep
	}
	return out
}

// Config returns the endpoint config called name
func (p *MemoryPlatform) Config(name string) (model.EndpointConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.configs[name]
	return c, ok
}

// Model returns the model called name
func (p *MemoryPlatform) Model(name string) (model.Model, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.models[name]
	return m, ok
}
