// Package eventlog implements the append-only, strictly ordered execution
// event log with exactly-once admission semantics.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/otelhelper"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// maxAppendAttempts bounds the internal retry on sequence-slot races. True
// concurrent writers on one execution indicate a caller bug, so exhausting
// the retries is surfaced as ErrSequenceRaceExhausted rather than recovered.
const maxAppendAttempts = 3

// ErrSequenceRaceExhausted indicates repeated sequence conflicts on one
// execution. Single-writer-per-execution is an invariant; this error is
// bug-class, not user error.
var ErrSequenceRaceExhausted = errors.New("sequence conflict retries exhausted")

// lockStripes is the size of the per-execution mutex pool. Two executions
// may share a stripe; that only costs contention, never correctness.
const lockStripes = 128

// AppendRequest describes a new event for an execution. Sequence number and
// idempotency key are derived, never supplied.
type AppendRequest struct {
	ExecutionID string
	Type        models.EventType
	Status      models.EventStatus // defaults to PENDING

	NodeID   string
	NodeType string
	NodeName string

	InputSnapshot     json.RawMessage
	OutputSnapshot    json.RawMessage
	ErrorSnapshot     json.RawMessage
	VariablesSnapshot json.RawMessage

	EdgeTaken      string
	DecisionResult string

	// CompensationEventID references the original event undone by a
	// COMPENSATED append.
	CompensationEventID string
}

// Appender appends events while the execution write lock is already held.
// See Log.WithWriteLock.
type Appender interface {
	Append(ctx context.Context, req AppendRequest) (*models.ExecutionEvent, error)
	AppendAt(ctx context.Context, req AppendRequest, sequenceNumber int64) (*models.ExecutionEvent, error)
}

// Log is the execution event log service. Within one execution, appends are
// serialized by a striped per-execution mutex; the repository's unique
// constraints on (execution_id, sequence_number) and idempotency_key are the
// correctness backstop should two processes write the same execution.
type Log struct {
	events persistence.EventRepository
	logger *slog.Logger
	tracer trace.Tracer

	locks [lockStripes]sync.Mutex
}

// NewLog creates an event log service over the given repository.
func NewLog(events persistence.EventRepository, logger *slog.Logger) *Log {
	return &Log{
		events: events,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("eventlog"),
	}
}

// WithTracer attaches a tracer; appends are then recorded as spans.
func (l *Log) WithTracer(tracer trace.Tracer) *Log {
	l.tracer = tracer

	return l
}

func (l *Log) lockFor(executionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(executionID))

	return &l.locks[h.Sum32()%lockStripes]
}

// Append admits a new event at the next free sequence slot for the
// execution. Re-invoking after a timeout is safe: a slot/type collision is
// resolved by returning the already-committed event.
func (l *Log) Append(ctx context.Context, req AppendRequest) (*models.ExecutionEvent, error) {
	mu := l.lockFor(req.ExecutionID)
	mu.Lock()
	defer mu.Unlock()

	return l.append(ctx, req, 0)
}

// AppendAt admits an event at an explicit sequence slot. Appending the same
// logical event (execution, sequence, type) twice returns the same event
// both times without creating a second row.
func (l *Log) AppendAt(ctx context.Context, req AppendRequest, sequenceNumber int64) (*models.ExecutionEvent, error) {
	mu := l.lockFor(req.ExecutionID)
	mu.Lock()
	defer mu.Unlock()

	return l.append(ctx, req, sequenceNumber)
}

// WithWriteLock runs fn while holding the execution's write lock, handing it
// an Appender that shares the lock. Compensation uses this to stay
// serialized against forward appends for the same execution.
func (l *Log) WithWriteLock(executionID string, fn func(app Appender) error) error {
	mu := l.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	return fn(&lockedAppender{log: l})
}

type lockedAppender struct {
	log *Log
}

func (a *lockedAppender) Append(ctx context.Context, req AppendRequest) (*models.ExecutionEvent, error) {
	return a.log.append(ctx, req, 0)
}

func (a *lockedAppender) AppendAt(ctx context.Context, req AppendRequest, sequenceNumber int64) (*models.ExecutionEvent, error) {
	return a.log.append(ctx, req, sequenceNumber)
}

// append does the work; the caller must hold the execution's stripe lock.
// A zero sequenceNumber means "next free slot".
func (l *Log) append(ctx context.Context, req AppendRequest, sequenceNumber int64) (*models.ExecutionEvent, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.append", trace.WithAttributes(
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.EventTypeKey, string(req.Type)),
	))
	defer span.End()

	explicit := sequenceNumber > 0

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		seq := sequenceNumber

		if !explicit {
			maxSeq, err := l.events.MaxSequence(ctx, req.ExecutionID)
			if err != nil {
				return nil, fmt.Errorf("failed to compute next sequence: %w", err)
			}

			seq = maxSeq + 1
		}

		key := models.IdempotencyKey(req.ExecutionID, seq, req.Type)

		existing, err := l.events.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}

		if existing != nil {
			// Duplicate append is not an error: same logical event, same
			// row.
			span.SetAttributes(attribute.Bool("sequor.event.deduplicated", true))

			return existing, nil
		}

		event := l.buildEvent(req, seq, key)

		err = l.events.Append(ctx, event)
		if err == nil {
			span.SetAttributes(attribute.Int64(otelhelper.SequenceKey, seq))

			return event, nil
		}

		if persistence.IsDuplicateIdempotencyKey(err) {
			existing, getErr := l.events.GetByIdempotencyKey(ctx, key)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load deduplicated event: %w", getErr)
			}

			if existing != nil {
				return existing, nil
			}

			return nil, fmt.Errorf("idempotency key collision without stored event: %w", err)
		}

		if persistence.IsSequenceConflict(err) {
			if explicit {
				// An explicit slot held by a different event type is a
				// caller bug, not a retriable race.
				return nil, err
			}

			l.logger.WarnContext(ctx, "sequence conflict on append, retrying",
				"execution_id", req.ExecutionID, "sequence", seq, "attempt", attempt+1)

			continue
		}

		return nil, err
	}

	err := persistence.NewEventError("Append", req.ExecutionID, 0, ErrSequenceRaceExhausted)
	otelhelper.SetError(span, err)

	return nil, err
}

func (l *Log) buildEvent(req AppendRequest, seq int64, key string) *models.ExecutionEvent {
	status := req.Status
	if status == "" {
		status = models.EventStatusPending
	}

	return &models.ExecutionEvent{
		ID:                  uuid.New().String(),
		ExecutionID:         req.ExecutionID,
		SequenceNumber:      seq,
		Type:                req.Type,
		Status:              status,
		NodeID:              req.NodeID,
		NodeType:            req.NodeType,
		NodeName:            req.NodeName,
		Timestamp:           time.Now().UTC(),
		InputSnapshot:       req.InputSnapshot,
		OutputSnapshot:      req.OutputSnapshot,
		ErrorSnapshot:       req.ErrorSnapshot,
		VariablesSnapshot:   req.VariablesSnapshot,
		EdgeTaken:           req.EdgeTaken,
		DecisionResult:      req.DecisionResult,
		IdempotencyKey:      key,
		CompensationEventID: req.CompensationEventID,
	}
}

// Seal writes the completion field group of an event exactly once.
func (l *Log) Seal(ctx context.Context, eventID string, seal persistence.EventSeal) error {
	return l.events.SealEvent(ctx, eventID, seal)
}

// History returns all events of an execution ascending by sequence number.
func (l *Log) History(ctx context.Context, executionID string) ([]*models.ExecutionEvent, error) {
	return l.events.ListByExecution(ctx, executionID)
}

// Range returns events with startSeq <= sequence <= endSeq, ascending.
func (l *Log) Range(ctx context.Context, executionID string, startSeq, endSeq int64) ([]*models.ExecutionEvent, error) {
	return l.events.ListRange(ctx, executionID, startSeq, endSeq)
}

// Last returns the newest event of an execution, or nil when none exist.
func (l *Log) Last(ctx context.Context, executionID string) (*models.ExecutionEvent, error) {
	return l.events.Last(ctx, executionID)
}

// ByIdempotencyKey returns the event admitted under the key, or nil.
func (l *Log) ByIdempotencyKey(ctx context.Context, key string) (*models.ExecutionEvent, error) {
	return l.events.GetByIdempotencyKey(ctx, key)
}

// Count returns the number of committed events for an execution.
func (l *Log) Count(ctx context.Context, executionID string) (int64, error) {
	return l.events.CountByExecution(ctx, executionID)
}

// ByStatus returns the execution's events with the given row status.
func (l *Log) ByStatus(ctx context.Context, executionID string, status models.EventStatus) ([]*models.ExecutionEvent, error) {
	return l.events.ListByStatus(ctx, executionID, status)
}

// ByNode returns the execution's events for one node.
func (l *Log) ByNode(ctx context.Context, executionID, nodeID string) ([]*models.ExecutionEvent, error) {
	return l.events.ListByNode(ctx, executionID, nodeID)
}
