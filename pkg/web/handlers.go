package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/deployment"
	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/execution"
	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	deployments *deployment.Service
	executions  *execution.Service
	log         *eventlog.Log
	tenants     *tenant.Registry
	trail       *audit.Trail
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	deployments *deployment.Service,
	executions *execution.Service,
	log *eventlog.Log,
	tenants *tenant.Registry,
	trail *audit.Trail,
	persist persistence.Persistence,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		deployments: deployments,
		executions:  executions,
		log:         log,
		tenants:     tenants,
		trail:       trail,
		persistence: persist,
		validator:   validate,
	}
}

func (h *APIHandlers) DeployWorkflow(c fiber.Ctx) error {
	var req DeployWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	def, compiled, err := h.deployments.Deploy(c.Context(), deployment.DeployRequest{
		WorkflowID:  req.WorkflowID,
		Version:     req.Version,
		TenantID:    req.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		Actor:       actorFrom(c),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(DeployWorkflowResponse{
		Definition: def,
		GraphHash:  compiled.Hash,
		NodeCount:  compiled.NodeCount(),
		StartNodes: compiled.StartNodes(),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	def, compiled, err := h.deployments.GetActive(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(DeployWorkflowResponse{
		Definition: def,
		GraphHash:  compiled.Hash,
		NodeCount:  compiled.NodeCount(),
		StartNodes: compiled.StartNodes(),
	})
}

func (h *APIHandlers) GetWorkflowVersions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	versions, err := h.deployments.ListVersions(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflow_id": id, "versions": versions})
}

func (h *APIHandlers) UndeployWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	removed, err := h.deployments.Undeploy(c.Context(), c.Query("tenant_id"), id, actorFrom(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflow_id": id, "versions_removed": removed})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.executions.Start(c.Context(), execution.StartRequest{
		TenantID:   req.TenantID,
		WorkflowID: req.WorkflowID,
		Variables:  req.Variables,
		Actor:      actorFrom(c),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StartExecutionResponse{
		ExecutionID: started.ExecutionID,
		Event:       started,
	})
}

// AppendEvent records a step-level event reported by a node runner.
func (h *APIHandlers) AppendEvent(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req AppendEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ref := execution.NodeRef{
		ExecutionID: executionID,
		TenantID:    req.TenantID,
		NodeID:      req.NodeID,
		NodeType:    req.NodeType,
		NodeName:    req.NodeName,
	}

	var (
		event *models.ExecutionEvent
		err   error
	)

	switch models.EventType(req.Type) {
	case models.EventTypeNodeEntered:
		event, err = h.executions.EnterNode(c.Context(), ref, req.Input)
	case models.EventTypeNodeCompleted:
		event, err = h.executions.CompleteNode(c.Context(), ref, req.EnteredEventID, req.Output, req.Variables, req.DurationMs)
	case models.EventTypeNodeFailed:
		event, err = h.executions.FailNode(c.Context(), ref, req.EnteredEventID, req.Error, req.DurationMs)
	case models.EventTypeGatewayEvaluated:
		event, err = h.executions.EvaluateGateway(c.Context(), ref, req.DecisionResult, req.EdgeTaken)
	case models.EventTypePaused:
		event, err = h.executions.Pause(c.Context(), ref, req.Error, actorFrom(c))
	case models.EventTypeResumed:
		event, err = h.executions.Resume(c.Context(), executionID, req.TenantID, actorFrom(c))
	case models.EventTypeCompleted:
		event, err = h.executions.Complete(c.Context(), executionID, req.TenantID)
	default:
		return badRequest(c, "Unsupported event type: "+req.Type)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *APIHandlers) FailExecution(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req FailExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.executions.Fail(c.Context(), executionID, req.TenantID, req.Error, req.Compensate)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *APIHandlers) GetExecutionState(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	if seqStr := c.Query("up_to_sequence"); seqStr != "" {
		seq, err := strconv.ParseInt(seqStr, 10, 64)
		if err != nil || seq < 1 {
			return badRequest(c, "Invalid up_to_sequence parameter")
		}

		state, err := h.executions.StateAt(c.Context(), executionID, seq)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(state)
	}

	state, err := h.executions.State(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(state)
}

func (h *APIHandlers) GetExecutionEvents(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	events, err := h.log.History(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"execution_id": executionID, "events": events})
}

func (h *APIHandlers) GetExecutionAudit(c fiber.Ctx) error {
	executionID := c.Params("id")
	if executionID == "" {
		return badRequest(c, "Execution ID is required")
	}

	entries, err := h.trail.ByExecution(c.Context(), executionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"execution_id": executionID, "entries": entries})
}

func (h *APIHandlers) CreateTenant(c fiber.Ctx) error {
	var req CreateTenantRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.tenants.Register(c.Context(), req.TenantID, req.Name, req.Config)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetTenants(c fiber.Ctx) error {
	tenants, err := h.tenants.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tenants": tenants})
}

func (h *APIHandlers) GetTenant(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Tenant ID is required")
	}

	found, err := h.tenants.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) SuspendTenant(c fiber.Ctx) error {
	return h.updateTenantStatus(c, h.tenants.Suspend)
}

func (h *APIHandlers) ActivateTenant(c fiber.Ctx) error {
	return h.updateTenantStatus(c, h.tenants.Activate)
}

func (h *APIHandlers) DeactivateTenant(c fiber.Ctx) error {
	return h.updateTenantStatus(c, h.tenants.Deactivate)
}

func (h *APIHandlers) updateTenantStatus(c fiber.Ctx, update func(ctx context.Context, tenantID string) error) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Tenant ID is required")
	}

	err := update(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	found, err := h.tenants.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(found)
}

func (h *APIHandlers) GetTenantAudit(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Tenant ID is required")
	}

	from, to, err := parseWindow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	entries, err := h.trail.ByTenantWindow(c.Context(), id, from, to)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"tenant_id": id, "entries": entries})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func actorFrom(c fiber.Ctx) string {
	if actor := c.Get("X-Actor"); actor != "" {
		return actor
	}

	return audit.SystemActor
}

func parseWindow(c fiber.Ctx) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return from, to, err
		}

		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return from, to, err
		}

		to = parsed
	}

	return from, to, nil
}
