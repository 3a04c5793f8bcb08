package compensation

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *eventlog.Log, persistence.EventRepository) {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	repo := persist.EventRepository()
	log := eventlog.NewLog(repo, slog.Default())

	return NewTracker(log, repo, slog.Default()), log, repo
}

func seedFailedExecution(t *testing.T, log *eventlog.Log, nodes ...string) {
	t.Helper()

	_, err := log.Append(t.Context(), eventlog.AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeStarted,
		Status:      models.EventStatusCompleted,
	})
	require.NoError(t, err)

	for _, nodeID := range nodes {
		variables, _ := json.Marshal(map[string]any{"last": nodeID})

		_, err := log.Append(t.Context(), eventlog.AppendRequest{
			ExecutionID:       "exec-1",
			Type:              models.EventTypeNodeCompleted,
			Status:            models.EventStatusCompleted,
			NodeID:            nodeID,
			VariablesSnapshot: variables,
		})
		require.NoError(t, err)
	}

	_, err = log.Append(t.Context(), eventlog.AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeFailed,
		Status:      models.EventStatusFailed,
	})
	require.NoError(t, err)
}

func TestTracker_CompensatesInReverseOrder(t *testing.T) {
	tracker, log, _ := newTestTracker(t)

	seedFailedExecution(t, log, "reserve", "charge", "ship")

	result, err := tracker.Compensate(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, result.Compensated, 3)
	assert.Zero(t, result.Skipped)

	// Newest completion rolls back first.
	assert.Equal(t, "ship", result.Compensated[0].NodeID)
	assert.Equal(t, "charge", result.Compensated[1].NodeID)
	assert.Equal(t, "reserve", result.Compensated[2].NodeID)

	seen := map[string]bool{}

	for _, event := range result.Compensated {
		assert.Equal(t, models.EventTypeCompensated, event.Type)
		assert.Equal(t, models.EventStatusCompleted, event.Status)
		require.NotEmpty(t, event.CompensationEventID)
		assert.False(t, seen[event.CompensationEventID])
		seen[event.CompensationEventID] = true
	}
}

func TestTracker_FlagsOriginals(t *testing.T) {
	tracker, log, _ := newTestTracker(t)

	seedFailedExecution(t, log, "reserve", "charge")

	_, err := tracker.Compensate(t.Context(), "exec-1")
	require.NoError(t, err)

	completed, err := log.ByStatus(t.Context(), "exec-1", models.EventStatusCompleted)
	require.NoError(t, err)

	for _, event := range completed {
		if event.Type == models.EventTypeNodeCompleted {
			assert.True(t, event.Compensated, "node %s should be flagged", event.NodeID)
			assert.NotEmpty(t, event.CompensationEventID)
		}
	}
}

func TestTracker_SecondRunIsIdempotent(t *testing.T) {
	tracker, log, _ := newTestTracker(t)

	seedFailedExecution(t, log, "reserve", "charge")

	first, err := tracker.Compensate(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, first.Compensated, 2)

	countBefore, err := log.Count(t.Context(), "exec-1")
	require.NoError(t, err)

	second, err := tracker.Compensate(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Empty(t, second.Compensated)
	assert.Equal(t, 2, second.Skipped)

	countAfter, err := log.Count(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter)
}

func TestTracker_NoCompletedStepsIsNoOp(t *testing.T) {
	tracker, log, _ := newTestTracker(t)

	_, err := log.Append(t.Context(), eventlog.AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeStarted,
		Status:      models.EventStatusCompleted,
	})
	require.NoError(t, err)

	_, err = log.Append(t.Context(), eventlog.AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeFailed,
		Status:      models.EventStatusFailed,
	})
	require.NoError(t, err)

	result, err := tracker.Compensate(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Empty(t, result.Compensated)
	assert.Zero(t, result.Skipped)
}

func TestTracker_UnknownExecution(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	_, err := tracker.Compensate(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestTracker_ResumesAfterInterruptedFlagging(t *testing.T) {
	tracker, log, repo := newTestTracker(t)

	seedFailedExecution(t, log, "reserve", "charge")

	// Simulate a crash between appending the COMPENSATED event for "charge"
	// and flagging the original: append the back-reference by hand.
	history, err := log.History(t.Context(), "exec-1")
	require.NoError(t, err)

	var chargeEvent *models.ExecutionEvent

	for _, event := range history {
		if event.NodeID == "charge" && event.Type == models.EventTypeNodeCompleted {
			chargeEvent = event
		}
	}

	require.NotNil(t, chargeEvent)

	_, err = log.Append(t.Context(), eventlog.AppendRequest{
		ExecutionID:         "exec-1",
		Type:                models.EventTypeCompensated,
		Status:              models.EventStatusCompleted,
		NodeID:              "charge",
		CompensationEventID: chargeEvent.ID,
	})
	require.NoError(t, err)

	result, err := tracker.Compensate(t.Context(), "exec-1")
	require.NoError(t, err)

	// Only "reserve" needs a fresh compensation; "charge" is finished from
	// the committed back-reference and counted as skipped.
	require.Len(t, result.Compensated, 1)
	assert.Equal(t, "reserve", result.Compensated[0].NodeID)
	assert.Equal(t, 1, result.Skipped)

	reloaded, err := repo.GetByID(t.Context(), chargeEvent.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.True(t, reloaded.Compensated)
}
