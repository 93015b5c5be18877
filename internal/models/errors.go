package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy shared by the stores and the orchestration engine.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrConflict        = errors.New("concurrent update conflict")
	ErrInvalidArgument = errors.New("invalid argument")
)

// InvalidTransitionError reports a disallowed job status edge. It is a
// programming or data error and is never retried.
type InvalidTransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// TransientError marks a fault worth retrying: an I/O timeout, a
// throttled call, a dropped connection. Anything not wrapped in it is
// treated as permanent by the retry layer, except ErrConflict which is
// retryable because UpdateStatus re-reads the record on every attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
