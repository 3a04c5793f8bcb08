package web

import (
	"errors"

	"github.com/dukex/sequor/pkg/deployment"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/replay"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// graphProblemType names the compilation failure class for API clients.
func graphProblemType(err error) string {
	switch {
	case errors.Is(err, graph.ErrMissingExecutionSection):
		return "missing_execution_section"
	case errors.Is(err, graph.ErrDuplicateNodeID):
		return "duplicate_node_id"
	case errors.Is(err, graph.ErrDanglingEdgeReference):
		return "dangling_edge_reference"
	case errors.Is(err, graph.ErrNoStartNode):
		return "no_start_node"
	case errors.Is(err, graph.ErrCycleDetected):
		return "cycle_detected"
	default:
		return "malformed_definition"
	}
}

// handleServiceError maps typed service errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case graph.IsValidationError(err):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType(graphProblemType(err)).
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case errors.Is(err, tenant.ErrTenantSuspended), errors.Is(err, tenant.ErrTenantInactive):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("tenant_not_admitted").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.Is(err, deployment.ErrVersionExists):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("version_exists").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, deployment.ErrWorkflowIDTaken):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("workflow_id_taken").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsSequenceConflict(err), persistence.IsDuplicateIdempotencyKey(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("append_conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsDefinitionNotFound(err):
		return notFound(c, "workflow definition not found")

	case persistence.IsTenantNotFound(err):
		return notFound(c, "tenant not found")

	case errors.Is(err, persistence.ErrTenantExists):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("tenant_exists").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, persistence.ErrExecutionNotFound), errors.Is(err, replay.ErrEmptyLog):
		return notFound(c, "execution not found")

	case errors.Is(err, persistence.ErrEventNotFound):
		return notFound(c, "execution event not found")

	default:
		return internalError(c, err)
	}
}
