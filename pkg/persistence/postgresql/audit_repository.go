package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/models"
)

// AuditRepository handles the tenant-scoped audit stream.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

const auditColumns = `
	id
  , execution_id
  , tenant_id
  , event_type
  , event_data
  , actor
  , timestamp
`

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, execution_id, tenant_id, event_type, event_data, actor, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.ExecutionID),
		entry.TenantID,
		entry.Type,
		nullBytes(entry.Data),
		entry.Actor,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

func (r *AuditRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_log
		WHERE execution_id = $1
		ORDER BY timestamp ASC
	`

	return r.list(ctx, query, executionID)
}

func (r *AuditRepository) ListByTenantWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_log
		WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`

	return r.list(ctx, query, tenantID, from, to)
}

func (r *AuditRepository) CountByTenantAndType(ctx context.Context, tenantID string, eventType models.AuditEventType) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE tenant_id = $1 AND event_type = $2",
		tenantID, eventType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return count, nil
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]*models.AuditLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.AuditLogEntry, 0)

	for rows.Next() {
		var (
			entry       models.AuditLogEntry
			executionID sql.NullString
			data        []byte
		)

		err = rows.Scan(
			&entry.ID,
			&executionID,
			&entry.TenantID,
			&entry.Type,
			&data,
			&entry.Actor,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.ExecutionID = executionID.String
		entry.Data = data

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
