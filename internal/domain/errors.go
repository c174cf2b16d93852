package domain

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError is returned when a request is malformed or incomplete.
// It is raised before a job id is allocated or any background work scheduled.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: field %q %s", e.Field, e.Reason)
}

// JobNotFoundError is returned when a job id has no stored record.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// UnknownKindError is returned when no handler is registered for a job kind.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no handler registered for job kind %q", e.Kind)
}

// GenerationError is returned when the external model call failed or its
// output was unusable. It surfaces as a terminal failed job state, never as
// an HTTP error.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return "generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrorKind maps an error to the error_type label stored in failure records.
func ErrorKind(err error) string {
	var ve *ValidationError
	var ge *GenerationError
	var uk *UnknownKindError
	switch {
	case errors.As(err, &ve):
		return "ValidationError"
	case errors.As(err, &uk):
		return "UnknownKindError"
	case errors.As(err, &ge):
		return "GenerationError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	case errors.Is(err, context.Canceled):
		return "CancelledError"
	default:
		return "InternalError"
	}
}
