package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sourceplane/fareflow/internal/errs"
	"github.com/sourceplane/fareflow/internal/model"
)

// Detail types emitted by the platform event bus
const (
	DetailTypeModelPackageStateChange = "SageMaker Model Package State Change"

	DetailTypePipelineExecutionStatusChange = "SageMaker Model Building Pipeline Execution Status Change"

	// Older rules and test fixtures use the shorter name
	DetailTypePipelineExecutionStatusChangeShort = "SageMaker Pipeline Execution Status Change"
)

// Pipeline execution states reported in status change events
const (
	ExecutionExecuting = "Executing"
	ExecutionSucceeded = "Succeeded"
	ExecutionFailed    = "Failed"
	ExecutionStopped   = "Stopped"
)

// Envelope is the wire shape of a lifecycle event
type Envelope struct {
	Version    string          `json:"version,omitempty"`
	ID         string          `json:"id,omitempty"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source,omitempty"`
	Account    string          `json:"account,omitempty"`
	Time       *time.Time      `json:"time,omitempty"`
	Region     string          `json:"region,omitempty"`
	Resources  []string        `json:"resources,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// Event is one of ModelPackageStateChange, PipelineExecutionStatusChange or Ignored
type Event interface {
	DetailType() string
	isEvent()
}

// ModelPackageStateChange reports a package registration or decision
type ModelPackageStateChange struct {
	ModelPackageARN       string               `json:"ModelPackageArn"`
	ModelPackageGroupName string               `json:"ModelPackageGroupName,omitempty"`
	ModelPackageVersion   int                  `json:"ModelPackageVersion,omitempty"`
	ApprovalStatus        model.ApprovalStatus `json:"ModelApprovalStatus,omitempty"`
}

func (ModelPackageStateChange) DetailType() string { return DetailTypeModelPackageStateChange }
func (ModelPackageStateChange) isEvent()           {}

// PipelineExecutionStatusChange reports a pipeline execution state
type PipelineExecutionStatusChange struct {
	PipelineARN          string `json:"pipelineArn,omitempty"`
	PipelineExecutionARN string `json:"pipelineExecutionArn"`
	CurrentStatus        string `json:"currentPipelineExecutionStatus,omitempty"`
	PreviousStatus       string `json:"previousPipelineExecutionStatus,omitempty"`
}

func (PipelineExecutionStatusChange) DetailType() string {
	return DetailTypePipelineExecutionStatusChange
}
func (PipelineExecutionStatusChange) isEvent() {}

// Failed reports whether the execution failed. Events without a status come
// from rules that already filter on failures.
func (e PipelineExecutionStatusChange) Failed() bool {
	return e.CurrentStatus == "" || e.CurrentStatus == ExecutionFailed
}

// Ignored is any event with a detail type nothing reacts to
type Ignored struct {
	Type string
}

func (e Ignored) DetailType() string { return e.Type }
func (Ignored) isEvent()             {}

// Decode parses an envelope and its detail exactly once
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.NewValidationError("event", fmt.Sprintf("malformed envelope: %v", err))
	}
	return FromEnvelope(env)
}

// FromEnvelope turns a decoded envelope into its variant
func FromEnvelope(env Envelope) (Event, error) {
	switch env.DetailType {
	case DetailTypeModelPackageStateChange:
		var ev ModelPackageStateChange
		if err := decodeDetail(env, &ev); err != nil {
			return nil, err
		}
		if ev.ModelPackageARN == "" {
			return nil, errs.NewValidationError("event", "model package state change without ModelPackageArn")
		}
		if ev.ApprovalStatus != "" && !ev.ApprovalStatus.Valid() {
			return nil, errs.NewValidationError("event", fmt.Sprintf("unknown approval status %q", ev.ApprovalStatus))
		}
		return ev, nil

	case DetailTypePipelineExecutionStatusChange, DetailTypePipelineExecutionStatusChangeShort:
		var ev PipelineExecutionStatusChange
		if err := decodeDetail(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return Ignored{Type: env.DetailType}, nil
}

func decodeDetail(env Envelope, v any) error {
	if len(env.Detail) == 0 {
		return errs.NewValidationError("event", fmt.Sprintf("%s without detail", env.DetailType))
	}
	if err := json.Unmarshal(env.Detail, v); err != nil {
		return errs.NewValidationError("event", fmt.Sprintf("malformed %s detail: %v", env.DetailType, err))
	}
	return nil
}

// Encode wraps ev in an envelope
func Encode(ev Event, source string, at time.Time) ([]byte, error) {
	detail, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s detail: %w", ev.DetailType(), err)
	}
	t := at.UTC()
	env := Envelope{
		Version:    "0",
		DetailType: ev.DetailType(),
		Source:     source,
		Time:       &t,
		Detail:     detail,
	}
	return json.Marshal(env)
}
