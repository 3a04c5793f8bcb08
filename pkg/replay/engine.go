// Package replay rebuilds execution state deterministically from the event
// log. Replay is a pure fold: no clocks, no randomness, no I/O besides
// reading committed events, so the same log always produces the same state.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/otelhelper"
	"github.com/dukex/sequor/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	// ErrSequenceGap means the stored log is missing a sequence number. The
	// log is append-only with contiguity enforced at admission, so a gap is
	// storage corruption, not a normal condition.
	ErrSequenceGap = errors.New("sequence gap in event log")

	// ErrEmptyLog means the execution has no events at all.
	ErrEmptyLog = errors.New("execution has no events")
)

// Engine replays execution event logs into state.
type Engine struct {
	events persistence.EventRepository
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine creates a replay engine over the given event repository.
func NewEngine(events persistence.EventRepository, logger *slog.Logger) *Engine {
	return &Engine{
		events: events,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("replay"),
	}
}

// WithTracer attaches a tracer.
func (e *Engine) WithTracer(tracer trace.Tracer) *Engine {
	e.tracer = tracer

	return e
}

// Replay folds the full committed log of an execution into its state.
func (e *Engine) Replay(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	ctx, span := e.tracer.Start(ctx, "replay.replay", trace.WithAttributes(
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	))
	defer span.End()

	events, err := e.events.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event log: %w", err)
	}

	return FoldEvents(executionID, events)
}

// ReplayAt folds the log only up to (and including) the given sequence
// number, producing the point-in-time state the execution had back then.
func (e *Engine) ReplayAt(ctx context.Context, executionID string, upToSequence int64) (*models.ExecutionState, error) {
	ctx, span := e.tracer.Start(ctx, "replay.replay_at", trace.WithAttributes(
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.Int64(otelhelper.SequenceKey, upToSequence),
	))
	defer span.End()

	events, err := e.events.ListRange(ctx, executionID, 1, upToSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to load event log range: %w", err)
	}

	return FoldEvents(executionID, events)
}

// completedRecord remembers one NODE_COMPLETED event so a later COMPENSATED
// event can roll its effects back.
type completedRecord struct {
	sequence    int64
	eventID     string
	nodeID      string
	variables   json.RawMessage
	compensated bool
}

// FoldEvents is the deterministic core of replay: events in, state out. The
// input must be sorted ascending by sequence number and contiguous from 1.
func FoldEvents(executionID string, events []*models.ExecutionEvent) (*models.ExecutionState, error) {
	if len(events) == 0 {
		return nil, persistence.NewEventError("Replay", executionID, 0, ErrEmptyLog)
	}

	state := &models.ExecutionState{
		ExecutionID:          executionID,
		Status:               models.ExecutionStatusRunning,
		Variables:            map[string]any{},
		CompletedNodes:       []string{},
		CompensatedSequences: []int64{},
	}

	var (
		base      json.RawMessage // variables at STARTED
		completed []*completedRecord
	)

	for i, event := range events {
		if event.SequenceNumber != int64(i)+1 {
			return nil, persistence.NewEventError("Replay", executionID, int64(i)+1, ErrSequenceGap)
		}

		switch event.Type {
		case models.EventTypeStarted:
			state.StartedAt = event.Timestamp
			state.Status = models.ExecutionStatusRunning
			base = event.VariablesSnapshot

			err := applyStartedInput(state, event.InputSnapshot)
			if err != nil {
				return nil, err
			}

		case models.EventTypeNodeEntered:
			state.CurrentNodeID = event.NodeID

		case models.EventTypeNodeCompleted:
			completed = append(completed, &completedRecord{
				sequence:  event.SequenceNumber,
				eventID:   event.ID,
				nodeID:    event.NodeID,
				variables: event.VariablesSnapshot,
			})

		case models.EventTypeNodeFailed:
			state.FailureError = errorMessage(event.ErrorSnapshot)

		case models.EventTypeGatewayEvaluated:
			// Routing decisions carry no state beyond the edge the execution
			// service already followed.

		case models.EventTypePaused:
			state.Status = models.ExecutionStatusPaused

		case models.EventTypeResumed:
			state.Status = models.ExecutionStatusRunning

		case models.EventTypeCompensated:
			markCompensated(state, completed, event.CompensationEventID)

		case models.EventTypeCompleted:
			state.Status = models.ExecutionStatusCompleted
			finished := event.Timestamp
			state.FinishedAt = &finished
			state.CurrentNodeID = ""

		case models.EventTypeFailed:
			state.Status = models.ExecutionStatusFailed
			finished := event.Timestamp
			state.FinishedAt = &finished

			if msg := errorMessage(event.ErrorSnapshot); msg != "" {
				state.FailureError = msg
			}

		default:
			return nil, persistence.NewEventError("Replay", executionID, event.SequenceNumber,
				fmt.Errorf("unknown event type %q", event.Type))
		}

		state.LastSequence = event.SequenceNumber
	}

	materialize(state, base, completed)

	return state, nil
}

// markCompensated flags the original NODE_COMPLETED record referenced by a
// COMPENSATED event. An unknown reference is ignored: the compensating event
// is already committed and replay must not fail the whole log over it.
func markCompensated(state *models.ExecutionState, completed []*completedRecord, originalEventID string) {
	for _, rec := range completed {
		if rec.eventID == originalEventID && !rec.compensated {
			rec.compensated = true
			state.CompensatedSequences = append(state.CompensatedSequences, rec.sequence)

			return
		}
	}
}

// materialize derives CompletedNodes and Variables from the surviving
// NODE_COMPLETED records. Variables snapshots are full post-event state, so
// the last surviving snapshot wins; when every completion was undone the
// variables fall back to the STARTED snapshot.
func materialize(state *models.ExecutionState, base json.RawMessage, completed []*completedRecord) {
	latest := base

	for _, rec := range completed {
		if rec.compensated {
			continue
		}

		state.CompletedNodes = append(state.CompletedNodes, rec.nodeID)

		if len(rec.variables) > 0 {
			latest = rec.variables
		}
	}

	if len(latest) > 0 {
		vars := map[string]any{}
		if err := json.Unmarshal(latest, &vars); err == nil {
			state.Variables = vars
		}
	}

	slices.Sort(state.CompensatedSequences)

	// A failed saga whose every completed node was rolled back is reported
	// as COMPENSATED rather than FAILED.
	if state.Status == models.ExecutionStatusFailed &&
		len(state.CompensatedSequences) > 0 && len(state.CompletedNodes) == 0 {
		state.Status = models.ExecutionStatusCompensated
	}
}

// startedInput is the payload the execution service records on STARTED.
type startedInput struct {
	WorkflowID string `json:"workflow_id"`
	Version    int    `json:"version"`
}

func applyStartedInput(state *models.ExecutionState, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}

	var input startedInput

	err := json.Unmarshal(raw, &input)
	if err != nil {
		return fmt.Errorf("failed to decode STARTED input snapshot: %w", err)
	}

	state.WorkflowID = input.WorkflowID

	return nil
}

// errorSnapshot is the payload recorded on NODE_FAILED and FAILED events.
type errorSnapshot struct {
	Message string `json:"message"`
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var snap errorSnapshot

	err := json.Unmarshal(raw, &snap)
	if err != nil {
		return string(raw)
	}

	return snap.Message
}
