// Package persistence provides the storage abstraction layer for workflow
// definitions, execution events, audit entries and tenants.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dukex/sequor/pkg/models"
)

type Persistence interface {
	DefinitionRepository() DefinitionRepository
	EventRepository() EventRepository
	AuditRepository() AuditRepository
	TenantRepository() TenantRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions, unique on
// (workflow_id, version). Definitions are deactivated, never deleted.
type DefinitionRepository interface {
	// Save upserts a definition row keyed by (workflow_id, version).
	Save(ctx context.Context, def *models.WorkflowDefinition) error

	// GetByVersion returns one definition, or nil when absent.
	GetByVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error)

	// ListVersions returns all versions of a workflow, newest first.
	ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowDefinition, error)

	// GetActive returns the most recently deployed active version, or nil.
	GetActive(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)

	// DeactivateAll marks every version of the workflow inactive and
	// returns how many rows it touched.
	DeactivateAll(ctx context.Context, workflowID string) (int64, error)
}

// EventSeal carries the write-once completion field group of an event.
type EventSeal struct {
	Status         models.EventStatus
	DurationMs     int64
	OutputSnapshot json.RawMessage
	ErrorSnapshot  json.RawMessage
}

// EventRepository is the append-only execution event store.
//
// Implementations must enforce uniqueness of (execution_id, sequence_number)
// and of idempotency_key at write time, reporting collisions as
// ErrSequenceConflict and ErrDuplicateIdempotencyKey respectively. These
// constraints are the correctness backstop for exactly-once admission; the
// event log service layers retry and dedupe on top of them.
type EventRepository interface {
	Append(ctx context.Context, event *models.ExecutionEvent) error

	// MaxSequence returns the highest committed sequence number for an
	// execution, or 0 when the execution has no events.
	MaxSequence(ctx context.Context, executionID string) (int64, error)

	GetByID(ctx context.Context, id string) (*models.ExecutionEvent, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.ExecutionEvent, error)

	// ListByExecution returns all events ascending by sequence number.
	ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionEvent, error)

	// ListRange returns events with startSeq <= sequence <= endSeq,
	// ascending.
	ListRange(ctx context.Context, executionID string, startSeq, endSeq int64) ([]*models.ExecutionEvent, error)

	// Last returns the highest-sequence event, or nil when none exist.
	Last(ctx context.Context, executionID string) (*models.ExecutionEvent, error)

	CountByExecution(ctx context.Context, executionID string) (int64, error)
	ListByStatus(ctx context.Context, executionID string, status models.EventStatus) ([]*models.ExecutionEvent, error)
	ListByNode(ctx context.Context, executionID string, nodeID string) ([]*models.ExecutionEvent, error)

	// SealEvent writes the completion field group exactly once. A second
	// seal fails with ErrEventSealed.
	SealEvent(ctx context.Context, eventID string, seal EventSeal) error

	// MarkCompensated sets the compensation linkage exactly once. A second
	// mark fails with ErrEventAlreadyCompensated.
	MarkCompensated(ctx context.Context, eventID string, compensationEventID string) error

	// StaleExecutions returns ids of executions whose newest event is still
	// PENDING and older than the cutoff. Used by the janitor.
	StaleExecutions(ctx context.Context, cutoff time.Time) ([]string, error)
}

// AuditRepository is the tenant-scoped compliance stream. Ordering is by
// timestamp only; there is no sequence invariant.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	ListByExecution(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error)
	ListByTenantWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.AuditLogEntry, error)
	CountByTenantAndType(ctx context.Context, tenantID string, eventType models.AuditEventType) (int64, error)
}

type TenantRepository interface {
	// Create inserts a tenant, failing with ErrTenantExists on a duplicate
	// tenant id.
	Create(ctx context.Context, tenant *models.TenantMetadata) error

	// GetByID returns the tenant, or nil when absent.
	GetByID(ctx context.Context, tenantID string) (*models.TenantMetadata, error)

	UpdateStatus(ctx context.Context, tenantID string, status models.TenantStatus) error
	List(ctx context.Context) ([]*models.TenantMetadata, error)
}
