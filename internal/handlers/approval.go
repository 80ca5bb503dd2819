package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/gommon/log"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/links"
	"github.com/sourceplane/fareflow/internal/logging"
	"github.com/sourceplane/fareflow/internal/metrics"
	"github.com/sourceplane/fareflow/internal/model"
)

// StatusUpdater moves a model package to a decided approval state
type StatusUpdater interface {
	UpdateApprovalStatus(ctx context.Context, arn string, status model.ApprovalStatus) (*model.ModelPackage, error)
}

// ApprovalRequest is what an approve or reject link carries
type ApprovalRequest struct {
	ModelPackageARN string
	Action          string
	Token           string
}

// Response is a status code plus a plain text body
type Response struct {
	StatusCode int
	Body       string
}

// Approval records a reviewer's decision on a model package
type Approval struct {
	registry StatusUpdater
	signer   *links.Signer
	logger   *log.Logger
	stats    *metrics.Metrics
}

// NewApproval creates the handler. When signer is not nil every request must
// carry a token it issued for the same package and action.
func NewApproval(registry StatusUpdater, signer *links.Signer, logger *log.Logger, stats *metrics.Metrics) *Approval {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Approval{registry: registry, signer: signer, logger: logger, stats: stats}
}

func (a *Approval) Handle(ctx context.Context, req ApprovalRequest) Response {
	resp := a.handle(ctx, req)
	a.stats.Approval(req.Action, resp.StatusCode)
	return resp
}

func (a *Approval) handle(ctx context.Context, req ApprovalRequest) Response {
	status, ok := decision(req.Action)
	if req.ModelPackageARN == "" || !ok {
		return Response{StatusCode: http.StatusBadRequest, Body: "Invalid request"}
	}

	if a.signer != nil {
		if err := a.signer.Verify(req.Token, req.ModelPackageARN, req.Action); err != nil {
			a.logger.Warnj(log.JSON{"modelPackageArn": req.ModelPackageARN, "action": req.Action, "error": err.Error()})
			return Response{StatusCode: http.StatusForbidden, Body: "Forbidden"}
		}
	}

	pkg, err := a.registry.UpdateApprovalStatus(ctx, req.ModelPackageARN, status)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return Response{StatusCode: http.StatusNotFound, Body: "Model package not found"}
	case errors.Is(err, errs.ErrValidation):
		return Response{StatusCode: http.StatusBadRequest, Body: "Invalid request"}
	case err != nil:
		a.logger.Errorj(log.JSON{"modelPackageArn": req.ModelPackageARN, "action": req.Action, "error": err.Error()})
		return Response{StatusCode: http.StatusInternalServerError, Body: "Internal error"}
	}

	a.logger.Infoj(log.JSON{"modelPackageArn": pkg.ARN, "requested": string(status), "status": string(pkg.Status)})
	if pkg.Status != status {
		return Response{StatusCode: http.StatusOK, Body: fmt.Sprintf("Model already %s", pkg.Status)}
	}
	return Response{StatusCode: http.StatusOK, Body: fmt.Sprintf("Model %s successfully", status)}
}

func decision(action string) (model.ApprovalStatus, bool) {
	switch action {
	case links.ActionApprove:
		return model.Approved, true
	case links.ActionReject:
		return model.Rejected, true
	}
	return "", false
}
