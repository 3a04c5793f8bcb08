package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
)

// EventRepository handles the append-only execution event rows. The
// execution_events table carries two unique constraints —
// (execution_id, sequence_number) and idempotency_key — which this
// repository maps to ErrSequenceConflict and ErrDuplicateIdempotencyKey.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

const eventColumns = `
	id
  , execution_id
  , sequence_number
  , event_type
  , status
  , node_id
  , node_type
  , node_name
  , timestamp
  , duration_ms
  , input_snapshot
  , output_snapshot
  , error_snapshot
  , variables_snapshot
  , edge_taken
  , decision_result
  , idempotency_key
  , compensated
  , compensation_event_id
`

func (r *EventRepository) Append(ctx context.Context, event *models.ExecutionEvent) error {
	query := `
		INSERT INTO execution_events
			(id, execution_id, sequence_number, event_type, status,
			 node_id, node_type, node_name, timestamp, duration_ms,
			 input_snapshot, output_snapshot, error_snapshot, variables_snapshot,
			 edge_taken, decision_result, idempotency_key, compensated, compensation_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.ExecutionID,
		event.SequenceNumber,
		event.Type,
		event.Status,
		nullString(event.NodeID),
		nullString(event.NodeType),
		nullString(event.NodeName),
		event.Timestamp,
		event.DurationMs,
		nullBytes(event.InputSnapshot),
		nullBytes(event.OutputSnapshot),
		nullBytes(event.ErrorSnapshot),
		nullBytes(event.VariablesSnapshot),
		nullString(event.EdgeTaken),
		nullString(event.DecisionResult),
		event.IdempotencyKey,
		event.Compensated,
		nullString(event.CompensationEventID),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "execution_events_idempotency_key"):
			return persistence.NewEventError("Append", event.ExecutionID, event.SequenceNumber, persistence.ErrDuplicateIdempotencyKey)
		case isUniqueViolation(err, "execution_events_sequence_key"):
			return persistence.NewEventError("Append", event.ExecutionID, event.SequenceNumber, persistence.ErrSequenceConflict)
		default:
			return fmt.Errorf("failed to append execution event: %w", err)
		}
	}

	return nil
}

func (r *EventRepository) MaxSequence(ctx context.Context, executionID string) (int64, error) {
	var maxSeq int64

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence_number), 0) FROM execution_events WHERE execution_id = $1",
		executionID).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to query max sequence: %w", err)
	}

	return maxSeq, nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM execution_events WHERE id = $1`

	return r.getOne(ctx, query, id)
}

func (r *EventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM execution_events WHERE idempotency_key = $1`

	return r.getOne(ctx, query, key)
}

func (r *EventRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY sequence_number ASC
	`

	return r.list(ctx, query, executionID)
}

func (r *EventRepository) ListRange(ctx context.Context, executionID string, startSeq, endSeq int64) ([]*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM execution_events
		WHERE execution_id = $1 AND sequence_number BETWEEN $2 AND $3
		ORDER BY sequence_number ASC
	`

	return r.list(ctx, query, executionID, startSeq, endSeq)
}

func (r *EventRepository) Last(ctx context.Context, executionID string) (*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM execution_events
		WHERE execution_id = $1
		ORDER BY sequence_number DESC
		LIMIT 1
	`

	return r.getOne(ctx, query, executionID)
}

func (r *EventRepository) CountByExecution(ctx context.Context, executionID string) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM execution_events WHERE execution_id = $1", executionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution events: %w", err)
	}

	return count, nil
}

func (r *EventRepository) ListByStatus(ctx context.Context, executionID string, status models.EventStatus) ([]*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM execution_events
		WHERE execution_id = $1 AND status = $2
		ORDER BY sequence_number ASC
	`

	return r.list(ctx, query, executionID, status)
}

func (r *EventRepository) ListByNode(ctx context.Context, executionID string, nodeID string) ([]*models.ExecutionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM execution_events
		WHERE execution_id = $1 AND node_id = $2
		ORDER BY sequence_number ASC
	`

	return r.list(ctx, query, executionID, nodeID)
}

// SealEvent writes the completion field group once. The sealed flag guards
// the write at the database level so two racing sealers cannot both win.
func (r *EventRepository) SealEvent(ctx context.Context, eventID string, seal persistence.EventSeal) error {
	query := `
		UPDATE execution_events
		SET status = $2, duration_ms = $3, output_snapshot = $4, error_snapshot = $5, sealed = TRUE
		WHERE id = $1 AND sealed = FALSE
	`

	result, err := r.db.ExecContext(ctx, query,
		eventID, seal.Status, seal.DurationMs, nullBytes(seal.OutputSnapshot), nullBytes(seal.ErrorSnapshot))
	if err != nil {
		return fmt.Errorf("failed to seal execution event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check seal result: %w", err)
	}

	if affected == 0 {
		exists, err := r.GetByID(ctx, eventID)
		if err != nil {
			return err
		}

		if exists == nil {
			return persistence.NewEventError("Seal", "", 0, persistence.ErrEventNotFound)
		}

		return persistence.NewEventError("Seal", exists.ExecutionID, exists.SequenceNumber, persistence.ErrEventSealed)
	}

	return nil
}

func (r *EventRepository) MarkCompensated(ctx context.Context, eventID string, compensationEventID string) error {
	query := `
		UPDATE execution_events
		SET compensated = TRUE, compensation_event_id = $2
		WHERE id = $1 AND compensated = FALSE
	`

	result, err := r.db.ExecContext(ctx, query, eventID, compensationEventID)
	if err != nil {
		return fmt.Errorf("failed to mark event compensated: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check compensation mark result: %w", err)
	}

	if affected == 0 {
		exists, err := r.GetByID(ctx, eventID)
		if err != nil {
			return err
		}

		if exists == nil {
			return persistence.NewEventError("MarkCompensated", "", 0, persistence.ErrEventNotFound)
		}

		return persistence.NewEventError("MarkCompensated", exists.ExecutionID, exists.SequenceNumber, persistence.ErrEventAlreadyCompensated)
	}

	return nil
}

func (r *EventRepository) StaleExecutions(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT e.execution_id
		FROM execution_events e
		JOIN (
			SELECT execution_id, MAX(sequence_number) AS max_seq
			FROM execution_events
			GROUP BY execution_id
		) latest ON latest.execution_id = e.execution_id AND latest.max_seq = e.sequence_number
		WHERE e.status = $1 AND e.timestamp < $2
		ORDER BY e.execution_id
	`

	rows, err := r.db.QueryContext(ctx, query, models.EventStatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err = rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale execution id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating stale executions: %w", err)
	}

	return ids, nil
}

func (r *EventRepository) getOne(ctx context.Context, query string, args ...any) (*models.ExecutionEvent, error) {
	event, err := scanEvent(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan execution event: %w", err)
	}

	return event, nil
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]*models.ExecutionEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution events: %w", err)
	}

	defer r.closeRows(ctx, rows)

	events := make([]*models.ExecutionEvent, 0)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution event: %w", err)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution events: %w", err)
	}

	return events, nil
}

func scanEvent(row rowScanner) (*models.ExecutionEvent, error) {
	var (
		event                                        models.ExecutionEvent
		nodeID, nodeType, nodeName                   sql.NullString
		edgeTaken, decisionResult, compensationEvent sql.NullString
		durationMs                                   sql.NullInt64
		input, output, errSnap, vars                 []byte
	)

	err := row.Scan(
		&event.ID,
		&event.ExecutionID,
		&event.SequenceNumber,
		&event.Type,
		&event.Status,
		&nodeID,
		&nodeType,
		&nodeName,
		&event.Timestamp,
		&durationMs,
		&input,
		&output,
		&errSnap,
		&vars,
		&edgeTaken,
		&decisionResult,
		&event.IdempotencyKey,
		&event.Compensated,
		&compensationEvent,
	)
	if err != nil {
		return nil, err
	}

	event.NodeID = nodeID.String
	event.NodeType = nodeType.String
	event.NodeName = nodeName.String
	event.DurationMs = durationMs.Int64
	event.InputSnapshot = input
	event.OutputSnapshot = output
	event.ErrorSnapshot = errSnap
	event.VariablesSnapshot = vars
	event.EdgeTaken = edgeTaken.String
	event.DecisionResult = decisionResult.String
	event.CompensationEventID = compensationEvent.String

	return &event, nil
}

func (r *EventRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return b
}
