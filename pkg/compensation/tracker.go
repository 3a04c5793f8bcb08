// Package compensation implements saga-style rollback over the execution
// event log. Compensation never deletes or rewrites history: each undone
// step is recorded as a fresh COMPENSATED event, and the original event is
// flagged with a back-reference.
package compensation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/otelhelper"
	"github.com/dukex/sequor/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracker walks a failed execution's log backwards and compensates every
// completed step that has not been compensated yet.
type Tracker struct {
	log    *eventlog.Log
	events persistence.EventRepository
	logger *slog.Logger
	tracer trace.Tracer
}

// NewTracker creates a compensation tracker. The eventlog.Log and the
// repository must be backed by the same store.
func NewTracker(log *eventlog.Log, events persistence.EventRepository, logger *slog.Logger) *Tracker {
	return &Tracker{
		log:    log,
		events: events,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("compensation"),
	}
}

// WithTracer attaches a tracer.
func (t *Tracker) WithTracer(tracer trace.Tracer) *Tracker {
	t.tracer = tracer

	return t
}

// Result summarizes one compensation run.
type Result struct {
	// Compensated lists the COMPENSATED events appended by this run, in
	// append order (reverse completion order of the originals).
	Compensated []*models.ExecutionEvent

	// Skipped counts originals that were already compensated before the run,
	// typically because a previous run was interrupted and resumed.
	Skipped int
}

// Compensate undoes every uncompensated NODE_COMPLETED event of the
// execution, newest first. The run holds the execution's write lock for its
// duration, so forward appends cannot interleave with the rollback.
//
// The operation is idempotent and resumable: originals already flagged, or
// already referenced by a committed COMPENSATED event, are skipped, so
// re-invoking after a crash finishes the remainder without double-appending.
func (t *Tracker) Compensate(ctx context.Context, executionID string) (*Result, error) {
	ctx, span := t.tracer.Start(ctx, "compensation.compensate", trace.WithAttributes(
		attribute.String(otelhelper.ExecutionIDKey, executionID),
	))
	defer span.End()

	result := &Result{Compensated: []*models.ExecutionEvent{}}

	err := t.log.WithWriteLock(executionID, func(app eventlog.Appender) error {
		history, err := t.events.ListByExecution(ctx, executionID)
		if err != nil {
			return fmt.Errorf("failed to load event log: %w", err)
		}

		if len(history) == 0 {
			return persistence.NewEventError("Compensate", executionID, 0, persistence.ErrExecutionNotFound)
		}

		// A crash between appending the COMPENSATED event and flagging the
		// original leaves the flag unset; the committed back-reference still
		// marks the original as done.
		referenced := map[string]*models.ExecutionEvent{}

		for _, event := range history {
			if event.Type == models.EventTypeCompensated && event.CompensationEventID != "" {
				referenced[event.CompensationEventID] = event
			}
		}

		for i := len(history) - 1; i >= 0; i-- {
			original := history[i]

			if !original.Type.Compensable() {
				continue
			}

			if original.Compensated {
				result.Skipped++

				continue
			}

			if prior, ok := referenced[original.ID]; ok {
				// Finish the interrupted flagging, then move on.
				err := t.flagOriginal(ctx, original, prior.ID)
				if err != nil {
					return err
				}

				result.Skipped++

				continue
			}

			compensating, err := t.appendCompensation(ctx, app, original)
			if err != nil {
				return err
			}

			err = t.flagOriginal(ctx, original, compensating.ID)
			if err != nil {
				return err
			}

			result.Compensated = append(result.Compensated, compensating)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("sequor.compensation.count", len(result.Compensated)))

	t.logger.InfoContext(ctx, "compensation run finished",
		"execution_id", executionID,
		"compensated", len(result.Compensated),
		"skipped", result.Skipped)

	return result, nil
}

func (t *Tracker) appendCompensation(ctx context.Context, app eventlog.Appender, original *models.ExecutionEvent) (*models.ExecutionEvent, error) {
	payload, err := json.Marshal(compensationDetail{
		OriginalEventID: original.ID,
		OriginalSeq:     original.SequenceNumber,
		CompensatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compensation detail: %w", err)
	}

	compensating, err := app.Append(ctx, eventlog.AppendRequest{
		ExecutionID:         original.ExecutionID,
		Type:                models.EventTypeCompensated,
		Status:              models.EventStatusCompleted,
		NodeID:              original.NodeID,
		NodeType:            original.NodeType,
		NodeName:            original.NodeName,
		OutputSnapshot:      payload,
		CompensationEventID: original.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append compensation event for sequence %d: %w",
			original.SequenceNumber, err)
	}

	return compensating, nil
}

func (t *Tracker) flagOriginal(ctx context.Context, original *models.ExecutionEvent, compensationEventID string) error {
	err := t.events.MarkCompensated(ctx, original.ID, compensationEventID)
	if err != nil {
		if persistence.IsEventAlreadyCompensated(err) {
			return nil
		}

		return fmt.Errorf("failed to flag compensated event: %w", err)
	}

	return nil
}

type compensationDetail struct {
	OriginalEventID string    `json:"original_event_id"`
	OriginalSeq     int64     `json:"original_sequence"`
	CompensatedAt   time.Time `json:"compensated_at"`
}
