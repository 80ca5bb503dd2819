package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed definitions and malformed handler input.
	ErrValidation = errors.New("validation failed")

	// ErrJobFailure marks a failed step job. The whole run fails with it.
	ErrJobFailure = errors.New("job failed")

	// ErrMetricsUnavailable marks a metrics artifact that cannot be read yet.
	ErrMetricsUnavailable = errors.New("metrics not yet available")

	// ErrPlatform marks an operation rejected by the engine, the registry or the endpoint host.
	ErrPlatform = errors.New("platform error")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError collects every problem found in one validation pass.
type ValidationError struct {
	Subject  string
	Problems []string
}

func NewValidationError(subject string, problems ...string) *ValidationError {
	return &ValidationError{Subject: subject, Problems: problems}
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid %s: %s", e.Subject, e.Problems[0])
	}
	return fmt.Sprintf("invalid %s: %d problems: %s", e.Subject, len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// JobFailure reports the step whose job failed.
type JobFailure struct {
	Step string
	Err  error
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *JobFailure) Unwrap() []error {
	return []error{ErrJobFailure, e.Err}
}

// PlatformError reports the platform operation that was rejected.
type PlatformError struct {
	Op  string
	Err error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PlatformError) Unwrap() []error {
	return []error{ErrPlatform, e.Err}
}

// Platform wraps err as a PlatformError for op. A nil err stays nil.
func Platform(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PlatformError{Op: op, Err: err}
}
