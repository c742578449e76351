package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockLost           = errors.New("visibility lock no longer held")
	ErrJobNotRetryable    = errors.New("job has exhausted its attempts")
)

// FailureClass tells the worker pool how to route a failed stage attempt.
type FailureClass int

const (
	// FailureTransient is the default: retried up to the attempt ceiling.
	FailureTransient FailureClass = iota
	// FailureValidation means the payload is malformed; dead-lettered immediately.
	FailureValidation
	// FailurePermanent is an explicit non-retryable handler signal
	// (e.g. the calendar event was already deleted); dead-lettered immediately.
	FailurePermanent
	// FailureInfrastructure means the queue store itself is unreachable.
	// The job is left recoverable and the condition is escalated.
	FailureInfrastructure
)

func (c FailureClass) String() string {
	switch c {
	case FailureValidation:
		return "validation"
	case FailurePermanent:
		return "permanent"
	case FailureInfrastructure:
		return "infrastructure"
	default:
		return "transient"
	}
}

// StageError wraps a handler failure with its routing class.
type StageError struct {
	Class FailureClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewValidationError(err error) error {
	return &StageError{Class: FailureValidation, Err: err}
}

func NewTransientError(err error) error {
	return &StageError{Class: FailureTransient, Err: err}
}

func NewPermanentError(err error) error {
	return &StageError{Class: FailurePermanent, Err: err}
}

func NewInfrastructureError(err error) error {
	return &StageError{Class: FailureInfrastructure, Err: err}
}

// ClassifyFailure extracts the routing class from a handler error.
// Unclassified errors are treated as transient, so external hiccups
// are retried rather than dead-lettered.
func ClassifyFailure(err error) FailureClass {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	return FailureTransient
}

// UnknownStageError reports a stage identifier missing from the registry.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown pipeline stage %q", e.Stage)
}
