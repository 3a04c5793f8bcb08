package eventlog

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())

	return NewLog(persist.EventRepository(), slog.Default())
}

func TestLog_AppendAssignsContiguousSequences(t *testing.T) {
	log := newTestLog(t)

	types := []models.EventType{
		models.EventTypeStarted,
		models.EventTypeNodeEntered,
		models.EventTypeNodeCompleted,
		models.EventTypeCompleted,
	}

	for i, eventType := range types {
		event, err := log.Append(t.Context(), AppendRequest{
			ExecutionID: "exec-1",
			Type:        eventType,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i)+1, event.SequenceNumber)
	}

	history, err := log.History(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	for i, event := range history {
		assert.Equal(t, int64(i)+1, event.SequenceNumber)
	}
}

func TestLog_AppendSetsDerivedFields(t *testing.T) {
	log := newTestLog(t)

	event, err := log.Append(t.Context(), AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeStarted,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, models.EventStatusPending, event.Status)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, models.IdempotencyKey("exec-1", 1, models.EventTypeStarted), event.IdempotencyKey)
}

func TestLog_AppendPersistsErrorSnapshot(t *testing.T) {
	log := newTestLog(t)

	errSnap := json.RawMessage(`{"message":"card declined"}`)

	event, err := log.Append(t.Context(), AppendRequest{
		ExecutionID:   "exec-1",
		Type:          models.EventTypeFailed,
		Status:        models.EventStatusFailed,
		ErrorSnapshot: errSnap,
	})
	require.NoError(t, err)
	assert.JSONEq(t, string(errSnap), string(event.ErrorSnapshot))

	history, err := log.History(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.JSONEq(t, string(errSnap), string(history[0].ErrorSnapshot))
}

func TestLog_AppendAtDuplicateReturnsSameEvent(t *testing.T) {
	log := newTestLog(t)

	first, err := log.AppendAt(t.Context(), AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeStarted,
	}, 1)
	require.NoError(t, err)

	// Same logical event: same execution, sequence, and type.
	second, err := log.AppendAt(t.Context(), AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeStarted,
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	count, err := log.Count(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLog_AppendAtOccupiedSlotDifferentType(t *testing.T) {
	log := newTestLog(t)

	_, err := log.AppendAt(t.Context(), AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeStarted,
	}, 1)
	require.NoError(t, err)

	_, err = log.AppendAt(t.Context(), AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeCompleted,
	}, 1)
	require.Error(t, err)
	assert.True(t, persistence.IsSequenceConflict(err))
}

func TestLog_SequencesIndependentPerExecution(t *testing.T) {
	log := newTestLog(t)

	a, err := log.Append(t.Context(), AppendRequest{ExecutionID: "exec-a", Type: models.EventTypeStarted})
	require.NoError(t, err)

	b, err := log.Append(t.Context(), AppendRequest{ExecutionID: "exec-b", Type: models.EventTypeStarted})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.SequenceNumber)
	assert.Equal(t, int64(1), b.SequenceNumber)
	assert.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
}

func TestLog_SealOnce(t *testing.T) {
	log := newTestLog(t)

	event, err := log.Append(t.Context(), AppendRequest{
		ExecutionID: "exec-1",
		Type:        models.EventTypeNodeEntered,
		NodeID:      "reserve",
	})
	require.NoError(t, err)

	err = log.Seal(t.Context(), event.ID, persistence.EventSeal{
		Status:     models.EventStatusCompleted,
		DurationMs: 42,
	})
	require.NoError(t, err)

	err = log.Seal(t.Context(), event.ID, persistence.EventSeal{
		Status: models.EventStatusFailed,
	})
	require.Error(t, err)
	assert.True(t, persistence.IsEventSealed(err))

	sealed, err := log.ByNode(t.Context(), "exec-1", "reserve")
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	assert.Equal(t, models.EventStatusCompleted, sealed[0].Status)
	assert.Equal(t, int64(42), sealed[0].DurationMs)
}

func TestLog_QueriesByRangeAndStatus(t *testing.T) {
	log := newTestLog(t)

	_, err := log.Append(t.Context(), AppendRequest{
		ExecutionID: "exec-1", Type: models.EventTypeStarted, Status: models.EventStatusCompleted,
	})
	require.NoError(t, err)

	_, err = log.Append(t.Context(), AppendRequest{
		ExecutionID: "exec-1", Type: models.EventTypeNodeEntered, NodeID: "a",
	})
	require.NoError(t, err)

	_, err = log.Append(t.Context(), AppendRequest{
		ExecutionID: "exec-1", Type: models.EventTypeNodeCompleted, NodeID: "a", Status: models.EventStatusCompleted,
	})
	require.NoError(t, err)

	ranged, err := log.Range(t.Context(), "exec-1", 2, 3)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, int64(2), ranged[0].SequenceNumber)
	assert.Equal(t, int64(3), ranged[1].SequenceNumber)

	pending, err := log.ByStatus(t.Context(), "exec-1", models.EventStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.EventTypeNodeEntered, pending[0].Type)

	last, err := log.Last(t.Context(), "exec-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(3), last.SequenceNumber)

	byKey, err := log.ByIdempotencyKey(t.Context(), models.IdempotencyKey("exec-1", 1, models.EventTypeStarted))
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, models.EventTypeStarted, byKey.Type)
}

func TestLog_WithWriteLockAppends(t *testing.T) {
	log := newTestLog(t)

	_, err := log.Append(t.Context(), AppendRequest{ExecutionID: "exec-1", Type: models.EventTypeStarted})
	require.NoError(t, err)

	err = log.WithWriteLock("exec-1", func(app Appender) error {
		event, err := app.Append(t.Context(), AppendRequest{
			ExecutionID: "exec-1",
			Type:        models.EventTypeCompensated,
		})
		if err != nil {
			return err
		}

		assert.Equal(t, int64(2), event.SequenceNumber)

		return nil
	})
	require.NoError(t, err)
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	key := models.IdempotencyKey("exec-1", 3, models.EventTypeNodeCompleted)

	assert.Equal(t, key, models.IdempotencyKey("exec-1", 3, models.EventTypeNodeCompleted))
	assert.NotEqual(t, key, models.IdempotencyKey("exec-1", 4, models.EventTypeNodeCompleted))
	assert.NotEqual(t, key, models.IdempotencyKey("exec-1", 3, models.EventTypeNodeFailed))
	assert.NotEqual(t, key, models.IdempotencyKey("exec-2", 3, models.EventTypeNodeCompleted))
	assert.Len(t, key, 64)
}
