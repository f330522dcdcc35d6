package service

import (
	"fmt"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id string, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id string) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

func NewErrPageNotFound(id string) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "page")
}

// NewErrPageNotInJob is returned when a page exists but is owned by another job.
func NewErrPageNotInJob(pageID, jobID string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("page %s not found in job %s", pageID, jobID)}
}

// ErrPersistence wraps a store failure. The message that caused it is left
// unacknowledged and redelivered.
type ErrPersistence struct {
	error
}

func NewErrPersistence(op string, err error) *ErrPersistence {
	return &ErrPersistence{fmt.Errorf("%s: %w", op, err)}
}

func (e *ErrPersistence) Unwrap() error {
	return e.error
}

// ErrDispatch is returned when a message could not be handed to the broker.
type ErrDispatch struct {
	error
}

func NewErrDispatch(queue string, err error) *ErrDispatch {
	return &ErrDispatch{fmt.Errorf("sending to %s queue: %w", queue, err)}
}

func (e *ErrDispatch) Unwrap() error {
	return e.error
}

// ErrWorkFailure is the failure of a unit of work. It is reported as a FAILED
// page, never retried by the worker.
type ErrWorkFailure struct {
	error
}

func NewErrWorkFailure(pageID string, cause any) *ErrWorkFailure {
	return &ErrWorkFailure{fmt.Errorf("page %s: %v", pageID, cause)}
}

type ErrInvalidGeneratorConfig struct {
	error
}

func NewErrInvalidGeneratorConfig(format string, args ...any) *ErrInvalidGeneratorConfig {
	return &ErrInvalidGeneratorConfig{fmt.Errorf(format, args...)}
}
