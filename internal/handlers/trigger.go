package handlers

import (
	"context"

	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/logging"
	"github.com/sourceplane/fareflow/internal/metrics"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/pipeline"
)

const StatusDeploymentTriggered = "deployment triggered"

// PipelineStarter starts an execution of a named pipeline
type PipelineStarter interface {
	StartPipelineExecution(ctx context.Context, pipeline string, params []model.ParameterValue) (string, error)
}

// TriggerDeploy starts the deployment pipeline once a package is approved.
// It never touches endpoints itself.
type TriggerDeploy struct {
	starter      PipelineStarter
	pipeline     string
	endpointName string
	logger       *log.Logger
	stats        *metrics.Metrics
}

func NewTriggerDeploy(starter PipelineStarter, pipelineName, endpointName string, logger *log.Logger, stats *metrics.Metrics) *TriggerDeploy {
	if endpointName == "" {
		endpointName = pipeline.DefaultEndpointName
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &TriggerDeploy{
		starter:      starter,
		pipeline:     pipelineName,
		endpointName: endpointName,
		logger:       logger,
		stats:        stats,
	}
}

func (t *TriggerDeploy) Handle(ctx context.Context, ev events.Event) (events.Result, error) {
	pkg, ok := ev.(events.ModelPackageStateChange)
	if !ok || pkg.ApprovalStatus != model.Approved {
		return events.ResultIgnored, nil
	}

	params := []model.ParameterValue{
		{Name: pipeline.ParamModelPackageArn, Value: pkg.ModelPackageARN},
		{Name: pipeline.ParamEndpointName, Value: t.endpointName},
	}
	execution, err := t.starter.StartPipelineExecution(ctx, t.pipeline, params)
	if err != nil {
		t.stats.Event(ev.DetailType(), "error")
		t.logger.Errorj(log.JSON{"modelPackageArn": pkg.ModelPackageARN, "pipeline": t.pipeline, "error": err.Error()})
		return events.Result{}, err
	}

	t.stats.Execution(t.pipeline)
	t.stats.Event(ev.DetailType(), "triggered")
	t.logger.Infoj(log.JSON{
		"modelPackageArn":      pkg.ModelPackageARN,
		"endpointName":         t.endpointName,
		"pipelineExecutionArn": execution,
	})
	return events.Result{Status: StatusDeploymentTriggered, Detail: execution}, nil
}
