// Package main provides the Sequor API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/compensation"
	"github.com/dukex/sequor/pkg/deployment"
	"github.com/dukex/sequor/pkg/eventbus"
	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/execution"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/replay"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/dukex/sequor/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	cache       *graph.Cache
	validate    *validator.Validate
	tracer      trace.Tracer
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	eventBus eventbus.EventBus,
	cache *graph.Cache,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		eventBus:    eventBus,
		cache:       cache,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithTracer enables span recording on the log, replay, and compensation
// services.
func (a *API) WithTracer(tracer trace.Tracer) *API {
	a.tracer = tracer

	return a
}

func (a *API) App() *fiber.App {
	eventLog := eventlog.NewLog(a.persistence.EventRepository(), a.logger)
	replayer := replay.NewEngine(a.persistence.EventRepository(), a.logger)
	tracker := compensation.NewTracker(eventLog, a.persistence.EventRepository(), a.logger)

	if a.tracer != nil {
		eventLog = eventLog.WithTracer(a.tracer)
		replayer = replayer.WithTracer(a.tracer)
		tracker = tracker.WithTracer(a.tracer)
	}
	tenants := tenant.NewRegistry(a.persistence.TenantRepository(), a.logger)
	trail := audit.NewTrail(a.persistence.AuditRepository(), a.logger)
	deployments := deployment.NewService(
		a.persistence.DefinitionRepository(), tenants, a.cache, trail, a.eventBus, a.logger)
	executions := execution.NewService(
		eventLog, replayer, tracker, deployments, tenants, trail, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(deployments, executions, eventLog, tenants, trail, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Sequor API")
	})

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

	t := app.Group("/tenants")
	t.Post("/", handlers.CreateTenant)
	t.Get("/", handlers.GetTenants)
	t.Get("/:id", handlers.GetTenant)
	t.Get("/:id/audit", handlers.GetTenantAudit)
	t.Post("/:id/suspend", handlers.SuspendTenant)
	t.Post("/:id/activate", handlers.ActivateTenant)
	t.Post("/:id/deactivate", handlers.DeactivateTenant)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
