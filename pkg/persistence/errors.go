// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations must use.
var (
	// ErrDefinitionNotFound indicates no definition exists for the given
	// workflow id (or id/version pair).
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrExecutionNotFound indicates an execution has no events.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrEventNotFound indicates an event was not found by id or key.
	ErrEventNotFound = errors.New("execution event not found")

	// ErrTenantNotFound indicates no tenant exists for the given id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantExists indicates a tenant with the same id already exists.
	ErrTenantExists = errors.New("tenant already exists")

	// ErrSequenceConflict indicates a concurrent writer committed the same
	// (execution_id, sequence_number) slot first.
	ErrSequenceConflict = errors.New("sequence number conflict")

	// ErrDuplicateIdempotencyKey indicates an event with the same
	// idempotency key was already admitted.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrEventSealed indicates the completion field group was already
	// written for the event.
	ErrEventSealed = errors.New("event already sealed")

	// ErrEventAlreadyCompensated indicates the compensation linkage was
	// already set for the event.
	ErrEventAlreadyCompensated = errors.New("event already compensated")
)

// EventError wraps event-related errors with additional context.
type EventError struct {
	Op          string // operation being performed ("Append", "Seal", ...)
	ExecutionID string
	Sequence    int64
	Err         error
}

func (e *EventError) Error() string {
	if e.Sequence > 0 {
		return fmt.Sprintf("%s operation failed for execution %s seq %d: %v", e.Op, e.ExecutionID, e.Sequence, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func (e *EventError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEventError creates a new event error with context.
func NewEventError(op, executionID string, sequence int64, err error) *EventError {
	return &EventError{
		Op:          op,
		ExecutionID: executionID,
		Sequence:    sequence,
		Err:         err,
	}
}

// DefinitionError wraps definition-related errors with additional context.
type DefinitionError struct {
	Op         string
	WorkflowID string
	Version    int
	Err        error
}

func (e *DefinitionError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for workflow %s v%d: %v", e.Op, e.WorkflowID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsTenantNotFound checks if an error indicates a missing tenant.
func IsTenantNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution with no
// events.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsSequenceConflict checks if an error indicates a sequence-slot race.
func IsSequenceConflict(err error) bool {
	return errors.Is(err, ErrSequenceConflict)
}

// IsDuplicateIdempotencyKey checks if an error indicates an idempotency-key
// collision.
func IsDuplicateIdempotencyKey(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsEventSealed checks if an error indicates a double seal attempt.
func IsEventSealed(err error) bool {
	return errors.Is(err, ErrEventSealed)
}

// IsEventAlreadyCompensated checks if an error indicates the event's
// compensation linkage was already written.
func IsEventAlreadyCompensated(err error) bool {
	return errors.Is(err, ErrEventAlreadyCompensated)
}
