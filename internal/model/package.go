package model

import "time"

// ApprovalStatus is the registry approval state of a model package
type ApprovalStatus string

const (
	PendingManualApproval ApprovalStatus = "PendingManualApproval"
	Approved              ApprovalStatus = "Approved"
	Rejected              ApprovalStatus = "Rejected"
)

// Decided reports whether the package left PendingManualApproval
func (s ApprovalStatus) Decided() bool {
	return s == Approved || s == Rejected
}

// Valid reports whether s is one of the known states
func (s ApprovalStatus) Valid() bool {
	return s == PendingManualApproval || s.Decided()
}

// CanTransition reports whether a package in state s may move to next.
// Only Pending may move, and only to a decided state.
func (s ApprovalStatus) CanTransition(next ApprovalStatus) bool {
	return s == PendingManualApproval && next.Decided()
}

// ModelPackage is a registered model plus its metrics and approval state
type ModelPackage struct {
	ARN          string         `json:"arn"`
	Group        string         `json:"group"`
	Version      int            `json:"version"`
	ModelDataURL string         `json:"modelDataUrl"`
	MetricsURL   string         `json:"metricsUrl,omitempty"`
	Description  string         `json:"description,omitempty"`
	Status       ApprovalStatus `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	DecidedAt    *time.Time     `json:"decidedAt,omitempty"`
}
