package worker

import (
	"context"
	"errors"
	"time"
)

// Task is a unit of periodic background work.
type Task interface {
	// Name identifies the task in logs and metrics. It must be unique.
	Name() string

	// Interval is the time between runs.
	Interval() time.Duration

	// Run executes one pass of the task. Returns an error if the run fails;
	// the task is retried on its next tick. Use NewPermanentError to stop
	// scheduling the task altogether.
	Run(ctx context.Context) error
}

// PermanentError wraps an error to indicate the task should not run again.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
