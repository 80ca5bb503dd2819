package deploy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/logging"
	"github.com/sourceplane/fareflow/internal/metrics"
	"github.com/sourceplane/fareflow/internal/model"
)

const (
	DefaultModelBaseName = "nyc-taxi-model"
	DefaultVariantName   = "AllTraffic"
	DefaultInstanceType  = "ml.t3.xlarge"
)

// Platform is the endpoint host. DescribeEndpoint reports a missing endpoint
// as errs.ErrNotFound.
type Platform interface {
	CreateModel(ctx context.Context, m model.Model) error
	CreateEndpointConfig(ctx context.Context, c model.EndpointConfig) error
	DescribeEndpoint(ctx context.Context, name string) (*model.Endpoint, error)
	CreateEndpoint(ctx context.Context, name, configName string) error
	UpdateEndpoint(ctx context.Context, name, configName string) error
}

// Request asks for a model package to be served behind an endpoint
type Request struct {
	ModelPackageARN string
	EndpointName    string
	InstanceType    string
	InstanceCount   int
}

func (r Request) Validate() error {
	var problems []string
	if r.ModelPackageARN == "" {
		problems = append(problems, "model package arn is required")
	}
	if r.EndpointName == "" {
		problems = append(problems, "endpoint name is required")
	}
	if r.InstanceCount < 1 {
		problems = append(problems, fmt.Sprintf("instance count must be at least 1, got %d", r.InstanceCount))
	}
	if len(problems) > 0 {
		return errs.NewValidationError("deploy request", problems...)
	}
	return nil
}

// Result names the resources one deploy created or changed
type Result struct {
	ModelName          string `json:"modelName"`
	EndpointConfigName string `json:"endpointConfigName"`
	EndpointName       string `json:"endpointName"`
	Updated            bool   `json:"updated"`
}

// Deployer creates a fresh model and endpoint config for every deploy and
// then points the endpoint at them.
type Deployer struct {
	platform      Platform
	modelBaseName string
	executionRole string
	logger        *log.Logger
	stats         *metrics.Metrics

	mu   sync.Mutex
	now  func() time.Time
	last int64
}

type Option func(*Deployer)

func WithClock(now func() time.Time) Option {
	return func(d *Deployer) { d.now = now }
}

func WithExecutionRole(arn string) Option {
	return func(d *Deployer) { d.executionRole = arn }
}

func WithModelBaseName(name string) Option {
	return func(d *Deployer) { d.modelBaseName = name }
}

func WithLogger(l *log.Logger) Option {
	return func(d *Deployer) { d.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deployer) { d.stats = m }
}

func NewDeployer(platform Platform, opts ...Option) *Deployer {
	d := &Deployer{
		platform:      platform,
		modelBaseName: DefaultModelBaseName,
		logger:        logging.Discard(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// suffix returns unix milliseconds, bumped past the previous suffix when two
// deploys of this process land in the same millisecond, followed by a short
// random tail that keeps separate processes apart.
func (d *Deployer) suffix() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.now().UnixMilli()
	if s <= d.last {
		s = d.last + 1
	}
	d.last = s
	return strconv.FormatInt(s, 10) + "-" + uuid.NewString()[:8]
}

func (d *Deployer) Deploy(ctx context.Context, req Request) (*Result, error) {
	if req.InstanceType == "" {
		req.InstanceType = DefaultInstanceType
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	suffix := d.suffix()
	res := &Result{
		ModelName:          d.modelBaseName + "-" + suffix,
		EndpointConfigName: req.EndpointName + "-config-" + suffix,
		EndpointName:       req.EndpointName,
	}

	d.logger.Infof("creating model %s from %s", res.ModelName, req.ModelPackageARN)
	if err := d.platform.CreateModel(ctx, model.Model{
		Name:            res.ModelName,
		ModelPackageARN: req.ModelPackageARN,
		ExecutionRole:   d.executionRole,
	}); err != nil {
		return d.fail(res, "create model", err)
	}

	d.logger.Infof("creating endpoint config %s", res.EndpointConfigName)
	if err := d.platform.CreateEndpointConfig(ctx, model.EndpointConfig{
		Name:          res.EndpointConfigName,
		ModelName:     res.ModelName,
		VariantName:   DefaultVariantName,
		InstanceType:  req.InstanceType,
		InstanceCount: req.InstanceCount,
	}); err != nil {
		return d.fail(res, "create endpoint config", err)
	}

	_, err := d.platform.DescribeEndpoint(ctx, req.EndpointName)
	switch {
	case err == nil:
		d.logger.Infof("updating endpoint %s", req.EndpointName)
		if err := d.platform.UpdateEndpoint(ctx, req.EndpointName, res.EndpointConfigName); err != nil {
			return d.fail(res, "update endpoint", err)
		}
		res.Updated = true
	case errors.Is(err, errs.ErrNotFound):
		d.logger.Infof("creating endpoint %s", req.EndpointName)
		if err := d.platform.CreateEndpoint(ctx, req.EndpointName, res.EndpointConfigName); err != nil {
			return d.fail(res, "create endpoint", err)
		}
	default:
		return d.fail(res, "describe endpoint", err)
	}

	d.stats.Deployment(mode(res.Updated), "ok")
	d.logger.Infoj(log.JSON{
		"endpointName":       res.EndpointName,
		"endpointConfigName": res.EndpointConfigName,
		"modelName":          res.ModelName,
		"updated":            res.Updated,
	})
	return res, nil
}

func (d *Deployer) fail(res *Result, op string, err error) (*Result, error) {
	d.stats.Deployment(mode(res.Updated), "error")
	d.logger.Errorj(log.JSON{"endpointName": res.EndpointName, "op": op, "error": err.Error()})
	if errors.Is(err, errs.ErrPlatform) {
		return nil, err
	}
	return nil, errs.Platform(op, err)
}

func mode(updated bool) string {
	if updated {
		return "update"
	}
	return "create"
}
