package audit

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())

	return NewTrail(persist.AuditRepository(), slog.Default())
}

func TestTrail_RecordFillsDefaults(t *testing.T) {
	trail := newTestTrail(t)

	data, _ := json.Marshal(map[string]string{"workflow_id": "w"})

	entry, err := trail.Record(t.Context(), Entry{
		ExecutionID: "exec-1",
		TenantID:    "acme",
		Type:        models.AuditWorkflowStarted,
		Data:        data,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, SystemActor, entry.Actor)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestTrail_QueriesByExecutionAndWindow(t *testing.T) {
	trail := newTestTrail(t)

	types := []models.AuditEventType{
		models.AuditWorkflowStarted,
		models.AuditNodeExecuted,
		models.AuditNodeExecuted,
		models.AuditWorkflowCompleted,
	}

	for _, eventType := range types {
		_, err := trail.Record(t.Context(), Entry{
			ExecutionID: "exec-1",
			TenantID:    "acme",
			Type:        eventType,
			Actor:       "ops@acme",
		})
		require.NoError(t, err)
	}

	byExecution, err := trail.ByExecution(t.Context(), "exec-1")
	require.NoError(t, err)
	require.Len(t, byExecution, 4)
	assert.Equal(t, models.AuditWorkflowStarted, byExecution[0].Type)
	assert.Equal(t, "ops@acme", byExecution[0].Actor)

	windowed, err := trail.ByTenantWindow(t.Context(), "acme",
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, windowed, 4)

	empty, err := trail.ByTenantWindow(t.Context(), "acme",
		time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)

	count, err := trail.CountByTenantAndType(t.Context(), "acme", models.AuditNodeExecuted)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTrail_TenantIsolation(t *testing.T) {
	trail := newTestTrail(t)

	_, err := trail.Record(t.Context(), Entry{
		ExecutionID: "exec-1", TenantID: "acme", Type: models.AuditWorkflowStarted,
	})
	require.NoError(t, err)

	_, err = trail.Record(t.Context(), Entry{
		ExecutionID: "exec-2", TenantID: "globex", Type: models.AuditWorkflowStarted,
	})
	require.NoError(t, err)

	windowed, err := trail.ByTenantWindow(t.Context(), "acme",
		time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "acme", windowed[0].TenantID)
}
