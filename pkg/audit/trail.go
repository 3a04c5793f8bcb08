// Package audit records and queries the tenant-scoped compliance trail. The
// trail is a side stream: it is never consulted by replay, and a failed
// audit write must not fail the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/google/uuid"
)

// SystemActor is recorded when no user identity is attached to an operation.
const SystemActor = "system"

// Trail is the audit trail service.
type Trail struct {
	entries persistence.AuditRepository
	logger  *slog.Logger
}

// NewTrail creates an audit trail over the given repository.
func NewTrail(entries persistence.AuditRepository, logger *slog.Logger) *Trail {
	return &Trail{entries: entries, logger: logger}
}

// Entry describes an audit record to append. Actor defaults to SystemActor.
type Entry struct {
	ExecutionID string
	TenantID    string
	Type        models.AuditEventType
	Data        json.RawMessage
	Actor       string
}

// Record appends an audit entry and returns it.
func (t *Trail) Record(ctx context.Context, entry Entry) (*models.AuditLogEntry, error) {
	actor := entry.Actor
	if actor == "" {
		actor = SystemActor
	}

	record := &models.AuditLogEntry{
		ID:          uuid.New().String(),
		ExecutionID: entry.ExecutionID,
		TenantID:    entry.TenantID,
		Type:        entry.Type,
		Data:        entry.Data,
		Actor:       actor,
		Timestamp:   time.Now().UTC(),
	}

	err := t.entries.Append(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}

	return record, nil
}

// TryRecord appends an audit entry, logging instead of failing when the
// write does not go through. Callers on the hot path use this so that audit
// unavailability never blocks execution progress.
func (t *Trail) TryRecord(ctx context.Context, entry Entry) {
	_, err := t.Record(ctx, entry)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to record audit entry",
			"tenant_id", entry.TenantID,
			"execution_id", entry.ExecutionID,
			"event_type", entry.Type,
			"error", err)
	}
}

// ByExecution returns the audit entries of one execution, oldest first.
func (t *Trail) ByExecution(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error) {
	return t.entries.ListByExecution(ctx, executionID)
}

// ByTenantWindow returns a tenant's entries inside [from, to], oldest first.
func (t *Trail) ByTenantWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.AuditLogEntry, error) {
	return t.entries.ListByTenantWindow(ctx, tenantID, from, to)
}

// CountByTenantAndType counts a tenant's entries of one type.
func (t *Trail) CountByTenantAndType(ctx context.Context, tenantID string, eventType models.AuditEventType) (int64, error) {
	return t.entries.CountByTenantAndType(ctx, tenantID, eventType)
}
