// Package registry stores model packages and their approval state.
//
// Every implementation enforces the same lifecycle: a package is created in
// PendingManualApproval, moves to Approved or Rejected once, and never moves
// again. Updating an already decided package is a no-op that returns the
// package as it is.
package registry

import (
	"context"
	"fmt"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// RegisterInput is everything needed to create a model package
type RegisterInput struct {
	Group              string
	Image              string
	ModelDataURL       string
	MetricsURL         string
	ContentTypes       []string
	ResponseTypes      []string
	InferenceInstances []string
	TransformInstances []string
	Description        string
}

// Registry is the model package store used by the pipeline and the handlers
type Registry interface {
	Register(ctx context.Context, in RegisterInput) (*model.ModelPackage, error)
	Describe(ctx context.Context, arn string) (*model.ModelPackage, error)
	UpdateApprovalStatus(ctx context.Context, arn string, status model.ApprovalStatus) (*model.ModelPackage, error)
}

// Validate checks a registration request
func (in RegisterInput) Validate() error {
	var problems []string
	if in.Group == "" {
		problems = append(problems, "model package group is required")
	}
	if in.ModelDataURL == "" {
		problems = append(problems, "model data location is required")
	}
	if len(problems) > 0 {
		return errs.NewValidationError("model package", problems...)
	}
	return nil
}

// CheckDecision rejects target states a package can never be moved to
func CheckDecision(arn string, status model.ApprovalStatus) error {
	if arn == "" {
		return errs.NewValidationError("approval", "model package arn is required")
	}
	if !status.Decided() {
		return errs.NewValidationError("approval", fmt.Sprintf("cannot move a package to %q", status))
	}
	return nil
}
