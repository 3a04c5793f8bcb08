package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/compensation"
	"github.com/dukex/sequor/pkg/deployment"
	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/execution"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence/file"
	"github.com/dukex/sequor/pkg/replay"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/dukex/sequor/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shippingDefinition = `{
	"workflow_id": "shipping",
	"version": 1,
	"execution": {
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "pack", "type": "task"},
			{"id": "done", "type": "end"}
		],
		"edges": [
			{"source": "start", "target": "pack"},
			{"source": "pack", "target": "done"}
		]
	}
}`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.Default()

	eventLog := eventlog.NewLog(persist.EventRepository(), logger)
	replayer := replay.NewEngine(persist.EventRepository(), logger)
	tracker := compensation.NewTracker(eventLog, persist.EventRepository(), logger)
	tenants := tenant.NewRegistry(persist.TenantRepository(), logger)
	trail := audit.NewTrail(persist.AuditRepository(), logger)
	cache := graph.NewCache(logger, graph.CompileOptions{})
	deployments := deployment.NewService(
		persist.DefinitionRepository(), tenants, cache, trail, nil, logger)
	executions := execution.NewService(
		eventLog, replayer, tracker, deployments, tenants, trail, nil, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())
	handlers := web.NewAPIHandlers(deployments, executions, eventLog, tenants, trail, persist, validate)

	app := fiber.New()

	w := app.Group("/workflows")
	w.Post("/", handlers.DeployWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Get("/:id/versions", handlers.GetWorkflowVersions)
	w.Delete("/:id", handlers.UndeployWorkflow)

	e := app.Group("/executions")
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecutionState)
	e.Get("/:id/events", handlers.GetExecutionEvents)
	e.Get("/:id/audit", handlers.GetExecutionAudit)
	e.Post("/:id/events", handlers.AppendEvent)
	e.Post("/:id/fail", handlers.FailExecution)

	tg := app.Group("/tenants")
	tg.Post("/", handlers.CreateTenant)
	tg.Get("/", handlers.GetTenants)
	tg.Get("/:id", handlers.GetTenant)
	tg.Get("/:id/audit", handlers.GetTenantAudit)
	tg.Post("/:id/suspend", handlers.SuspendTenant)
	tg.Post("/:id/activate", handlers.ActivateTenant)
	tg.Post("/:id/deactivate", handlers.DeactivateTenant)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body []byte

	if payload != nil {
		if str, ok := payload.(string); ok {
			body = []byte(str)
		} else {
			encoded, err := json.Marshal(payload)
			require.NoError(t, err)
			body = encoded
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, raw
}

func createTenant(t *testing.T, app *fiber.App, tenantID string) {
	t.Helper()

	resp, _ := doJSON(t, app, http.MethodPost, "/tenants/", web.CreateTenantRequest{
		TenantID: tenantID,
		Name:     tenantID + " Inc",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func deployShipping(t *testing.T, app *fiber.App) {
	t.Helper()

	resp, _ := doJSON(t, app, http.MethodPost, "/workflows/", web.DeployWorkflowRequest{
		WorkflowID: "shipping",
		Version:    1,
		TenantID:   "acme",
		Name:       "Shipping",
		Definition: []byte(shippingDefinition),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func startExecution(t *testing.T, app *fiber.App) string {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
		TenantID:   "acme",
		WorkflowID: "shipping",
		Variables:  map[string]any{"orders": 3.0},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started web.StartExecutionResponse

	require.NoError(t, json.Unmarshal(body, &started))
	require.NotEmpty(t, started.ExecutionID)

	return started.ExecutionID
}

func TestAPIHandlers_DeployWorkflow(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/", web.DeployWorkflowRequest{
		WorkflowID: "shipping",
		Version:    1,
		TenantID:   "acme",
		Name:       "Shipping",
		Definition: []byte(shippingDefinition),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var deployed web.DeployWorkflowResponse

	require.NoError(t, json.Unmarshal(body, &deployed))
	assert.Equal(t, 3, deployed.NodeCount)
	assert.Equal(t, []string{"start"}, deployed.StartNodes)
	assert.NotEmpty(t, deployed.GraphHash)
	assert.True(t, deployed.Definition.Active)
}

func TestAPIHandlers_DeployWorkflowInvalidGraph(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/", web.DeployWorkflowRequest{
		WorkflowID: "broken",
		Version:    1,
		TenantID:   "acme",
		Name:       "Broken",
		Definition: []byte(`{"workflow_id": "broken", "version": 1}`),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), "missing_execution_section")
}

func TestAPIHandlers_DeployWorkflowBadRequests(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")

	resp, _ := doJSON(t, app, http.MethodPost, "/workflows/", "not-json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/", web.DeployWorkflowRequest{
		WorkflowID: "shipping",
		Version:    1,
		TenantID:   "acme",
		Definition: []byte(shippingDefinition),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_GetWorkflowNotFound(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows/ghost", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ExecutionLifecycle(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")
	deployShipping(t, app)

	executionID := startExecution(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/events", web.AppendEventRequest{
		TenantID: "acme",
		Type:     string(models.EventTypeNodeEntered),
		NodeID:   "pack",
		NodeType: "task",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var entered models.ExecutionEvent

	require.NoError(t, json.Unmarshal(body, &entered))
	assert.Equal(t, models.EventStatusPending, entered.Status)

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/events", web.AppendEventRequest{
		TenantID:       "acme",
		Type:           string(models.EventTypeNodeCompleted),
		NodeID:         "pack",
		NodeType:       "task",
		EnteredEventID: entered.ID,
		Variables:      map[string]any{"orders": 3.0, "packed": true},
		DurationMs:     12,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/events", web.AppendEventRequest{
		TenantID: "acme",
		Type:     string(models.EventTypeCompleted),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/executions/"+executionID, nil)

	stateResp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = stateResp.Body.Close() }()

	require.Equal(t, http.StatusOK, stateResp.StatusCode)

	stateBody, err := io.ReadAll(stateResp.Body)
	require.NoError(t, err)

	var state models.ExecutionState

	require.NoError(t, json.Unmarshal(stateBody, &state))
	assert.Equal(t, models.ExecutionStatusCompleted, state.Status)
	assert.Equal(t, []string{"pack"}, state.CompletedNodes)
}

func TestAPIHandlers_AppendEventUnsupportedType(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")
	deployShipping(t, app)

	executionID := startExecution(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/events", web.AppendEventRequest{
		TenantID: "acme",
		Type:     "TELEPORTED",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_FailExecutionWithCompensation(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")
	deployShipping(t, app)

	executionID := startExecution(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/events", web.AppendEventRequest{
		TenantID: "acme",
		Type:     string(models.EventTypeNodeEntered),
		NodeID:   "pack",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var entered models.ExecutionEvent

	require.NoError(t, json.Unmarshal(body, &entered))

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/events", web.AppendEventRequest{
		TenantID:       "acme",
		Type:           string(models.EventTypeNodeCompleted),
		NodeID:         "pack",
		EnteredEventID: entered.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/executions/"+executionID+"/fail", web.FailExecutionRequest{
		TenantID:   "acme",
		Error:      "warehouse offline",
		Compensate: true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/executions/"+executionID, nil)

	stateResp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = stateResp.Body.Close() }()

	stateBody, err := io.ReadAll(stateResp.Body)
	require.NoError(t, err)

	var state models.ExecutionState

	require.NoError(t, json.Unmarshal(stateBody, &state))
	assert.Equal(t, models.ExecutionStatusCompensated, state.Status)
	assert.Empty(t, state.CompletedNodes)
}

func TestAPIHandlers_StartExecutionSuspendedTenant(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")
	deployShipping(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/tenants/acme/suspend", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/executions/", web.StartExecutionRequest{
		TenantID:   "acme",
		WorkflowID: "shipping",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "tenant_not_admitted")
}

func TestAPIHandlers_GetExecutionStateAtSequence(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")
	deployShipping(t, app)

	executionID := startExecution(t, app)

	req := httptest.NewRequest(http.MethodGet, "/executions/"+executionID+"?up_to_sequence=1", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var state models.ExecutionState

	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, int64(1), state.LastSequence)

	bad := httptest.NewRequest(http.MethodGet, "/executions/"+executionID+"?up_to_sequence=zero", nil)

	badResp, err := app.Test(bad)
	require.NoError(t, err)

	defer func() { _ = badResp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestAPIHandlers_GetExecutionStateUnknown(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/executions/ghost", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_TenantLifecycle(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")

	resp, body := doJSON(t, app, http.MethodPost, "/tenants/acme/suspend", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var suspended models.TenantMetadata

	require.NoError(t, json.Unmarshal(body, &suspended))
	assert.Equal(t, models.TenantStatusSuspended, suspended.Status)

	resp, body = doJSON(t, app, http.MethodPost, "/tenants/acme/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var activated models.TenantMetadata

	require.NoError(t, json.Unmarshal(body, &activated))
	assert.Equal(t, models.TenantStatusActive, activated.Status)

	resp, _ = doJSON(t, app, http.MethodPost, "/tenants/", web.CreateTenantRequest{
		TenantID: "acme",
		Name:     "Duplicate",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/tenants/ghost", nil)

	missingResp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = missingResp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, missingResp.StatusCode)
}

func TestAPIHandlers_AuditEndpoints(t *testing.T) {
	app := setupTestApp(t)
	createTenant(t, app, "acme")
	deployShipping(t, app)

	executionID := startExecution(t, app)

	req := httptest.NewRequest(http.MethodGet, "/executions/"+executionID+"/audit", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "WORKFLOW_STARTED")

	tenantReq := httptest.NewRequest(http.MethodGet, "/tenants/acme/audit", nil)

	tenantResp, err := app.Test(tenantReq)
	require.NoError(t, err)

	defer func() { _ = tenantResp.Body.Close() }()

	assert.Equal(t, http.StatusOK, tenantResp.StatusCode)

	badWindow := httptest.NewRequest(http.MethodGet, "/tenants/acme/audit?from=yesterday", nil)

	badResp, err := app.Test(badWindow)
	require.NoError(t, err)

	defer func() { _ = badResp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, badResp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
