package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/config"
	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/handlers"
	"github.com/sourceplane/fareflow/internal/links"
	"github.com/sourceplane/fareflow/internal/loader"
	"github.com/sourceplane/fareflow/internal/metrics"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/notify"
	"github.com/sourceplane/fareflow/internal/pipeline"
	"github.com/sourceplane/fareflow/internal/platform"
	"github.com/sourceplane/fareflow/internal/registry"
	"github.com/sourceplane/fareflow/internal/runner"
	"github.com/sourceplane/fareflow/internal/schema"
)

// app carries what the root command resolved to every subcommand
type app struct {
	configPath string
	logLevel   string
	stdout     io.Writer

	cfg    *config.Config
	logger *log.Logger
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

func (a *app) training(registerModel bool) (*model.Definition, error) {
	return pipeline.BuildTraining(a.cfg.TrainingParams(), registerModel)
}

func (a *app) deployment() (*model.Definition, error) {
	return pipeline.BuildDeployment(a.cfg.DeploymentParams())
}

// definition loads file when one is given, otherwise builds the named pipeline
func (a *app) definition(name, file string, registerModel bool) (*model.Definition, error) {
	if file != "" {
		return loader.LoadDefinition(file)
	}
	switch strings.ToLower(name) {
	case "training", "train":
		return a.training(registerModel)
	case "deployment", "deploy":
		return a.deployment()
	}
	return nil, fmt.Errorf("unknown pipeline %q (want training or deployment)", name)
}

func (a *app) aws(ctx context.Context) (aws.Config, *platform.SageMaker, error) {
	awsCfg, err := platform.LoadAWSConfig(ctx, a.cfg.Region)
	if err != nil {
		return aws.Config{}, nil, err
	}
	return awsCfg, platform.NewSageMaker(sagemaker.NewFromConfig(awsCfg)), nil
}

// registry returns the Postgres registry when a DSN is configured, otherwise
// fallback. The returned func releases the connection pool.
func (a *app) registry(ctx context.Context, fallback registry.Registry) (registry.Registry, func(), error) {
	dsn := a.cfg.Registry.DSN
	if dsn == "" {
		return fallback, func() {}, nil
	}
	if err := registry.Migrate(ctx, dsn); err != nil {
		return nil, nil, err
	}
	pool, err := registry.OpenPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Infoj(log.JSON{"registry": "postgres"})
	return registry.NewPostgres(pool, ""), pool.Close, nil
}

func (a *app) artifacts() (artifact.Store, error) {
	if dir := a.cfg.Artifacts.Dir; dir != "" {
		return artifact.NewFileStore(dir), nil
	}
	return artifact.NewS3Store(artifact.S3Config{
		Endpoint: a.cfg.Artifacts.Endpoint,
		Region:   a.cfg.Region,
		UseSSL:   a.cfg.Artifacts.UseSSL,
	})
}

// publisher sends to the configured topic, or to the log when there is none
func (a *app) publisher(awsCfg *aws.Config) notify.Publisher {
	if a.cfg.Notify.TopicARN == "" || awsCfg == nil {
		return notify.Log{Logger: a.logger}
	}
	return notify.NewSNS(sns.NewFromConfig(*awsCfg), a.cfg.Notify.TopicARN)
}

func (a *app) signer() *links.Signer {
	if key := a.cfg.Notify.SigningKey; key != "" {
		return links.NewSigner([]byte(key), a.cfg.Notify.LinkTTL)
	}
	return nil
}

// lifecycleDeps are the collaborators the approval workflow runs against
type lifecycleDeps struct {
	registry  registry.Registry
	store     artifact.Store
	publisher notify.Publisher
	starter   handlers.PipelineStarter
	validator *schema.Validator
	stats     *metrics.Metrics

	// emitDecisions makes approvals emit state changes themselves, for
	// registries that do not publish events
	emitDecisions bool
}

// lifecycle is the approval workflow: notify on registration, record the
// reviewer's decision, deploy on approval
type lifecycle struct {
	notify     *handlers.Notify
	trigger    *handlers.TriggerDeploy
	approval   *handlers.Approval
	dispatcher *events.Dispatcher
}

func (a *app) lifecycle(d lifecycleDeps) *lifecycle {
	signer := a.signer()

	var validator artifact.DocumentValidator
	if d.validator != nil {
		validator = d.validator
	}
	policy := a.cfg.MetricsRetry()

	l := &lifecycle{}
	l.notify = handlers.NewNotify(handlers.NotifyConfig{
		Packages:  d.registry,
		Metrics:   artifact.NewMetricsReader(d.store, validator),
		Publisher: d.publisher,
		Links:     links.Builder{Base: a.cfg.Notify.ApprovalBase, Signer: signer},
		Retry:     policy,
		Logger:    a.logger,
		Stats:     d.stats,
	})
	l.trigger = handlers.NewTriggerDeploy(d.starter, a.cfg.Deployment.PipelineName, a.cfg.Deployment.EndpointName, a.logger, d.stats)
	l.dispatcher = events.NewDispatcher(a.logger,
		events.Route{Name: "notify", Match: events.AnyEvent, Handler: l.notify},
		events.Route{Name: "deploy", Match: events.ApprovedPackages, Handler: l.trigger},
	)

	var updater handlers.StatusUpdater = d.registry
	if d.emitDecisions {
		updater = runner.EventingRegistry{Registry: d.registry, Sink: l.dispatcher, Logger: a.logger}
	}
	l.approval = handlers.NewApproval(updater, signer, a.logger, d.stats)
	return l
}
