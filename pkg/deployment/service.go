// Package deployment manages the lifecycle of workflow definitions:
// validation, versioned deploys, and undeploys. A definition that fails
// compilation is never persisted, so storage only ever holds runnable
// workflows.
package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/eventbus"
	"github.com/dukex/sequor/pkg/events"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/go-playground/validator/v10"
)

// RedeployPolicy decides what happens when a deploy targets an existing
// (workflow_id, version) pair.
type RedeployPolicy string

const (
	// RedeployOverwrite replaces the stored payload in place. This is the
	// default: version numbers are owned by the caller, and re-pushing the
	// same version is how definition fixes ship.
	RedeployOverwrite RedeployPolicy = "overwrite"

	// RedeployReject refuses deploys to an occupied version.
	RedeployReject RedeployPolicy = "reject"
)

// ErrVersionExists rejects a deploy under RedeployReject when the version is
// already occupied.
var ErrVersionExists = errors.New("workflow version already deployed")

// ErrWorkflowIDTaken rejects a deploy whose workflow id already belongs to a
// different tenant. Workflow ids are a single global namespace.
var ErrWorkflowIDTaken = errors.New("workflow id already in use by another tenant")

// Service is the deployment service.
type Service struct {
	definitions persistence.DefinitionRepository
	tenants     *tenant.Registry
	cache       *graph.Cache
	trail       *audit.Trail
	bus         eventbus.EventPublisher
	logger      *slog.Logger
	validator   *validator.Validate
	policy      RedeployPolicy
}

// NewService creates a deployment service with the Overwrite redeploy
// policy. The bus may be nil; deployment then skips notifications.
func NewService(
	definitions persistence.DefinitionRepository,
	tenants *tenant.Registry,
	cache *graph.Cache,
	trail *audit.Trail,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		definitions: definitions,
		tenants:     tenants,
		cache:       cache,
		trail:       trail,
		bus:         bus,
		logger:      logger,
		validator:   validator.New(),
		policy:      RedeployOverwrite,
	}
}

// WithRedeployPolicy overrides the redeploy policy.
func (s *Service) WithRedeployPolicy(policy RedeployPolicy) *Service {
	s.policy = policy

	return s
}

// DeployRequest describes a deploy.
type DeployRequest struct {
	WorkflowID  string
	Version     int
	TenantID    string
	Name        string
	Description string
	Definition  json.RawMessage
	Actor       string
}

// Deploy validates and compiles the definition, then persists it as the
// active version of the workflow. All previously active versions are
// deactivated; exactly one version of a workflow is active at a time.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) (*models.WorkflowDefinition, *models.WorkflowGraph, error) {
	def := &models.WorkflowDefinition{
		WorkflowID:  req.WorkflowID,
		Version:     req.Version,
		TenantID:    req.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		DeployedAt:  time.Now().UTC(),
		Active:      true,
	}

	err := s.validator.Struct(def)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid deployment request: %w", err)
	}

	_, err = s.tenants.EnsureAdmission(ctx, req.TenantID)
	if err != nil {
		return nil, nil, err
	}

	// Compile before touching storage. A broken definition must leave no
	// trace.
	compiled, err := s.cache.Get(ctx, req.Definition)
	if err != nil {
		return nil, nil, err
	}

	owner, err := s.owner(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, err
	}

	if owner != "" && owner != req.TenantID {
		return nil, nil, &persistence.DefinitionError{
			Op: "Deploy", WorkflowID: req.WorkflowID, Err: ErrWorkflowIDTaken,
		}
	}

	redeploy, err := s.checkRedeploy(ctx, req.WorkflowID, req.Version)
	if err != nil {
		return nil, nil, err
	}

	_, err = s.definitions.DeactivateAll(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to deactivate previous versions: %w", err)
	}

	err = s.definitions.Save(ctx, def)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save workflow definition: %w", err)
	}

	s.logger.InfoContext(ctx, "workflow deployed",
		"workflow_id", req.WorkflowID,
		"version", req.Version,
		"tenant_id", req.TenantID,
		"redeploy", redeploy)

	detail, _ := json.Marshal(map[string]any{
		"workflow_id": req.WorkflowID,
		"version":     req.Version,
		"graph_hash":  compiled.Hash,
		"redeploy":    redeploy,
	})

	s.trail.TryRecord(ctx, audit.Entry{
		TenantID: req.TenantID,
		Type:     models.AuditRuleExecuted,
		Data:     detail,
		Actor:    req.Actor,
	})

	s.publish(ctx, req.WorkflowID, events.WorkflowDeployed{
		BaseEvent: events.NewBaseEvent(events.WorkflowDeployedEvent, req.TenantID, req.WorkflowID),
		Version:   req.Version,
		GraphHash: compiled.Hash,
		Redeploy:  redeploy,
	})

	return def, compiled, nil
}

// owner returns the tenant that owns a workflow id, or "" when no versions
// are stored. All versions of a workflow belong to one tenant.
func (s *Service) owner(ctx context.Context, workflowID string) (string, error) {
	versions, err := s.definitions.ListVersions(ctx, workflowID)
	if err != nil {
		return "", fmt.Errorf("failed to load workflow versions: %w", err)
	}

	if len(versions) == 0 {
		return "", nil
	}

	return versions[0].TenantID, nil
}

func (s *Service) checkRedeploy(ctx context.Context, workflowID string, version int) (bool, error) {
	existing, err := s.definitions.GetByVersion(ctx, workflowID, version)
	if err != nil {
		return false, fmt.Errorf("failed to check existing version: %w", err)
	}

	if existing == nil {
		return false, nil
	}

	if s.policy == RedeployReject {
		return false, &persistence.DefinitionError{
			Op: "Deploy", WorkflowID: workflowID, Version: version, Err: ErrVersionExists,
		}
	}

	return true, nil
}

// Undeploy deactivates every version of a workflow. History is preserved:
// rows stay queryable, and running executions keep replaying against the
// version they started with.
func (s *Service) Undeploy(ctx context.Context, tenantID, workflowID, actor string) (int64, error) {
	owner, err := s.owner(ctx, workflowID)
	if err != nil {
		return 0, err
	}

	// Foreign tenants see the workflow as absent rather than forbidden.
	if owner != "" && owner != tenantID {
		return 0, &persistence.DefinitionError{
			Op: "Undeploy", WorkflowID: workflowID, Err: persistence.ErrDefinitionNotFound,
		}
	}

	removed, err := s.definitions.DeactivateAll(ctx, workflowID)
	if err != nil {
		return 0, fmt.Errorf("failed to undeploy workflow: %w", err)
	}

	if removed == 0 {
		return 0, &persistence.DefinitionError{
			Op: "Undeploy", WorkflowID: workflowID, Err: persistence.ErrDefinitionNotFound,
		}
	}

	s.logger.InfoContext(ctx, "workflow undeployed", "workflow_id", workflowID, "versions", removed)

	detail, _ := json.Marshal(map[string]any{
		"workflow_id":      workflowID,
		"versions_removed": removed,
	})

	s.trail.TryRecord(ctx, audit.Entry{
		TenantID: tenantID,
		Type:     models.AuditRuleExecuted,
		Data:     detail,
		Actor:    actor,
	})

	s.publish(ctx, workflowID, events.WorkflowUndeployed{
		BaseEvent:       events.NewBaseEvent(events.WorkflowUndeployedEvent, tenantID, workflowID),
		VersionsRemoved: removed,
	})

	return removed, nil
}

// GetActive returns the active definition of a workflow together with its
// compiled graph.
func (s *Service) GetActive(ctx context.Context, workflowID string) (*models.WorkflowDefinition, *models.WorkflowGraph, error) {
	def, err := s.definitions.GetActive(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active definition: %w", err)
	}

	if def == nil {
		return nil, nil, &persistence.DefinitionError{
			Op: "GetActive", WorkflowID: workflowID, Err: persistence.ErrDefinitionNotFound,
		}
	}

	compiled, err := s.cache.Get(ctx, def.Definition)
	if err != nil {
		return nil, nil, err
	}

	return def, compiled, nil
}

// GetVersion returns one stored version with its compiled graph.
func (s *Service) GetVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, *models.WorkflowGraph, error) {
	def, err := s.definitions.GetByVersion(ctx, workflowID, version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load definition version: %w", err)
	}

	if def == nil {
		return nil, nil, &persistence.DefinitionError{
			Op: "GetVersion", WorkflowID: workflowID, Version: version, Err: persistence.ErrDefinitionNotFound,
		}
	}

	compiled, err := s.cache.Get(ctx, def.Definition)
	if err != nil {
		return nil, nil, err
	}

	return def, compiled, nil
}

// ListVersions returns all stored versions of a workflow, newest first.
func (s *Service) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowDefinition, error) {
	return s.definitions.ListVersions(ctx, workflowID)
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	err := s.bus.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish deployment event",
			"event_type", event.GetType(), "error", err)
	}
}
