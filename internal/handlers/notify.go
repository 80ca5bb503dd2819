package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/artifact"
	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/links"
	"github.com/sourceplane/fareflow/internal/logging"
	"github.com/sourceplane/fareflow/internal/metrics"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/notify"
	"github.com/sourceplane/fareflow/internal/retry"
)

const (
	SubjectSuccess = "[MLOps] Model Pipeline SUCCESS"
	SubjectFailure = "[MLOps] Model Pipeline FAILURE"

	MetricsPlaceholder = "Metrics not yet available. Please refresh in a few minutes."

	StatusSent = "sent"
)

// DefaultMetricsRetry is how long Notify waits for the evaluation report to land
func DefaultMetricsRetry() retry.Policy {
	return retry.Fixed(5, 3*time.Second)
}

// Describer looks up a model package
type Describer interface {
	Describe(ctx context.Context, arn string) (*model.ModelPackage, error)
}

// MetricsSource reads a metrics document
type MetricsSource interface {
	Read(ctx context.Context, uri string) (*artifact.Metrics, error)
}

// NotifyConfig holds the collaborators of the Notify handler
type NotifyConfig struct {
	Packages  Describer
	Metrics   MetricsSource
	Publisher notify.Publisher
	Links     links.Builder
	Retry     retry.Policy
	Logger    *log.Logger
	Stats     *metrics.Metrics
}

// Notify tells reviewers about new model packages and failed executions
type Notify struct {
	cfg NotifyConfig
}

func NewNotify(cfg NotifyConfig) *Notify {
	if cfg.Retry.Attempts == 0 {
		p := DefaultMetricsRetry()
		p.Sleep = cfg.Retry.Sleep
		cfg.Retry = p
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Notify{cfg: cfg}
}

func (n *Notify) Handle(ctx context.Context, ev events.Event) (events.Result, error) {
	switch ev := ev.(type) {
	case events.ModelPackageStateChange:
		if ev.ApprovalStatus.Decided() {
			n.cfg.Stats.Event(ev.DetailType(), "ignored")
			return events.ResultIgnored, nil
		}
		return n.registered(ctx, ev)

	case events.PipelineExecutionStatusChange:
		if !ev.Failed() {
			n.cfg.Stats.Event(ev.DetailType(), "ignored")
			return events.ResultIgnored, nil
		}
		return n.failed(ctx, ev)
	}
	n.cfg.Stats.Event(ev.DetailType(), "ignored")
	return events.ResultIgnored, nil
}

func (n *Notify) registered(ctx context.Context, ev events.ModelPackageStateChange) (events.Result, error) {
	status := ev.ApprovalStatus
	if status == "" {
		status = model.PendingManualApproval
	}

	scores, err := n.fetchMetrics(ctx, ev.ModelPackageARN)
	kind := "success"
	switch {
	case errors.Is(err, errs.ErrMetricsUnavailable), errors.Is(err, retry.ErrExhausted):
		n.cfg.Logger.Warnj(log.JSON{"modelPackageArn": ev.ModelPackageARN, "message": "metrics unavailable", "error": err.Error()})
		kind = "degraded"
		scores = nil
	case err != nil:
		n.cfg.Stats.Event(ev.DetailType(), "error")
		return events.Result{}, err
	}

	approve, err := n.cfg.Links.Approve(ev.ModelPackageARN)
	if err != nil {
		return events.Result{}, err
	}
	reject, err := n.cfg.Links.Reject(ev.ModelPackageARN)
	if err != nil {
		return events.Result{}, err
	}

	msg := notify.Message{
		Subject: SubjectSuccess,
		Body:    registeredBody(ev.ModelPackageARN, status, scores, approve, reject),
	}
	if err := n.cfg.Publisher.Publish(ctx, msg); err != nil {
		n.cfg.Stats.Event(ev.DetailType(), "error")
		return events.Result{}, err
	}

	n.cfg.Stats.Notification(kind)
	n.cfg.Stats.Event(ev.DetailType(), StatusSent)
	n.cfg.Logger.Infoj(log.JSON{"modelPackageArn": ev.ModelPackageARN, "notification": kind})
	return events.Result{Status: StatusSent}, nil
}

func (n *Notify) failed(ctx context.Context, ev events.PipelineExecutionStatusChange) (events.Result, error) {
	var b strings.Builder
	b.WriteString("Pipeline Failed\n\n")
	fmt.Fprintf(&b, "Pipeline ARN: %s\n\n", ev.PipelineExecutionARN)
	b.WriteString("Check CloudWatch logs for details.\n")

	if err := n.cfg.Publisher.Publish(ctx, notify.Message{Subject: SubjectFailure, Body: b.String()}); err != nil {
		n.cfg.Stats.Event(ev.DetailType(), "error")
		return events.Result{}, err
	}
	n.cfg.Stats.Notification("failure")
	n.cfg.Stats.Event(ev.DetailType(), StatusSent)
	n.cfg.Logger.Infoj(log.JSON{"pipelineExecutionArn": ev.PipelineExecutionARN, "notification": "failure"})
	return events.Result{Status: StatusSent}, nil
}

// fetchMetrics resolves the package's metrics location and reads it. A package
// not yet visible or a report not yet written is retried.
func (n *Notify) fetchMetrics(ctx context.Context, arn string) (*artifact.Metrics, error) {
	return retry.Blocking(ctx, n.cfg.Retry, func(attempt int) (*artifact.Metrics, error) {
		pkg, err := n.cfg.Packages.Describe(ctx, arn)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", retry.ErrRetry, err)
		}
		if err != nil {
			return nil, err
		}

		m, err := n.cfg.Metrics.Read(ctx, pkg.MetricsURL)
		if errors.Is(err, errs.ErrMetricsUnavailable) {
			n.cfg.Logger.Debugf("metrics for %s unavailable on attempt %d: %v", arn, attempt, err)
			return nil, fmt.Errorf("%w: %w", retry.ErrRetry, err)
		}
		if err != nil {
			return nil, err
		}
		n.cfg.Stats.Fetch(attempt)
		return m, nil
	})
}

func registeredBody(arn string, status model.ApprovalStatus, m *artifact.Metrics, approve, reject string) string {
	var b strings.Builder
	b.WriteString("Model Registered Successfully\n\n")
	fmt.Fprintf(&b, "Model ARN: %s\n", arn)
	fmt.Fprintf(&b, "Approval Status: %s\n\n", status)

	if m == nil {
		b.WriteString(MetricsPlaceholder)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Model Metrics:\n")
		writeScores(&b, "TRAIN", m.TrainScore)
		writeScores(&b, "TEST", m.TestScore)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Approve: %s\n", approve)
	fmt.Fprintf(&b, "Reject: %s\n\n", reject)
	b.WriteString("Next step: Approve model to trigger deployment.\n")
	return b.String()
}

func writeScores(b *strings.Builder, label string, s artifact.Scores) {
	fmt.Fprintf(b, "%s:\n", label)
	fmt.Fprintf(b, "  RMSE: %.2f\n", s.RMSE)
	fmt.Fprintf(b, "  MAE: %.2f\n", s.MAE)
	fmt.Fprintf(b, "  MSE: %.2f\n", s.MSE)
	fmt.Fprintf(b, "  R2: %.4f\n", s.R2)
}
