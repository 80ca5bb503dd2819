package runner

import (
	"context"

	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/events"
	"github.com/sourceplane/fareflow/internal/model"
	"github.com/sourceplane/fareflow/internal/registry"
)

// EventingRegistry emits a package state change whenever an approval
// decision actually moves a package, the way the managed registry does
type EventingRegistry struct {
	registry.Registry
	Sink   Sink
	Logger *log.Logger
}

func (r EventingRegistry) UpdateApprovalStatus(ctx context.Context, arn string, status model.ApprovalStatus) (*model.ModelPackage, error) {
	before, err := r.Registry.Describe(ctx, arn)
	if err != nil {
		return nil, err
	}
	after, err := r.Registry.UpdateApprovalStatus(ctx, arn, status)
	if err != nil {
		return nil, err
	}
	if before.Status == after.Status || r.Sink == nil {
		return after, nil
	}
	// The decision is recorded either way; delivery problems only reach the log.
	if err := r.Sink.Emit(ctx, events.ModelPackageStateChange{
		ModelPackageARN:       after.ARN,
		ModelPackageGroupName: after.Group,
		ModelPackageVersion:   after.Version,
		ApprovalStatus:        after.Status,
	}); err != nil && r.Logger != nil {
		r.Logger.Errorj(log.JSON{"modelPackageArn": after.ARN, "status": string(after.Status), "error": err.Error()})
	}
	return after, nil
}
