// Package execution records workflow execution progress in the event log
// and drives the saga rollback on failure. The service never runs node
// business logic itself; callers report what happened and the service turns
// it into committed, ordered history.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/compensation"
	"github.com/dukex/sequor/pkg/deployment"
	"github.com/dukex/sequor/pkg/eventbus"
	"github.com/dukex/sequor/pkg/eventlog"
	"github.com/dukex/sequor/pkg/events"
	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/replay"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/google/uuid"
)

// Service coordinates execution lifecycle operations.
type Service struct {
	log         *eventlog.Log
	replayer    *replay.Engine
	tracker     *compensation.Tracker
	deployments *deployment.Service
	tenants     *tenant.Registry
	trail       *audit.Trail
	bus         eventbus.EventPublisher
	logger      *slog.Logger
}

// NewService creates an execution service. The bus may be nil; lifecycle
// notifications are then skipped.
func NewService(
	log *eventlog.Log,
	replayer *replay.Engine,
	tracker *compensation.Tracker,
	deployments *deployment.Service,
	tenants *tenant.Registry,
	trail *audit.Trail,
	bus eventbus.EventPublisher,
	logger *slog.Logger,
) *Service {
	return &Service{
		log:         log,
		replayer:    replayer,
		tracker:     tracker,
		deployments: deployments,
		tenants:     tenants,
		trail:       trail,
		bus:         bus,
		logger:      logger,
	}
}

// StartRequest describes a new execution.
type StartRequest struct {
	TenantID   string
	WorkflowID string
	Variables  map[string]any
	Actor      string
}

// Start admits a new execution of the workflow's active version. Admission
// is checked before anything is written: a suspended or inactive tenant gets
// an error and the log stays untouched.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.ExecutionEvent, error) {
	_, err := s.tenants.EnsureAdmission(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	def, compiled, err := s.deployments.GetActive(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	// Only the tenant that deployed a workflow may start it. The mismatch is
	// reported as not-found so foreign tenants cannot probe for workflow ids.
	if def.TenantID != req.TenantID {
		return nil, &persistence.DefinitionError{
			Op: "Start", WorkflowID: req.WorkflowID, Err: persistence.ErrDefinitionNotFound,
		}
	}

	executionID := uuid.New().String()

	input, err := json.Marshal(map[string]any{
		"workflow_id": def.WorkflowID,
		"version":     def.Version,
		"graph_hash":  compiled.Hash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode start input: %w", err)
	}

	variables, err := json.Marshal(orEmpty(req.Variables))
	if err != nil {
		return nil, fmt.Errorf("failed to encode initial variables: %w", err)
	}

	started, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID:       executionID,
		Type:              models.EventTypeStarted,
		Status:            models.EventStatusCompleted,
		InputSnapshot:     input,
		VariablesSnapshot: variables,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "execution started",
		"execution_id", executionID,
		"workflow_id", def.WorkflowID,
		"version", def.Version,
		"tenant_id", req.TenantID)

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: executionID,
		TenantID:    req.TenantID,
		Type:        models.AuditWorkflowStarted,
		Data:        input,
		Actor:       req.Actor,
	})

	s.publish(ctx, executionID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, req.TenantID, def.WorkflowID),
		ExecutionID: executionID,
		Version:     def.Version,
		Variables:   req.Variables,
		Initiator:   req.Actor,
	})

	return started, nil
}

// NodeRef identifies one node step inside an execution.
type NodeRef struct {
	ExecutionID string
	TenantID    string
	NodeID      string
	NodeType    string
	NodeName    string
}

// EnterNode records that a node began executing. The NODE_ENTERED event
// stays PENDING until CompleteNode or FailNode seals it.
func (s *Service) EnterNode(ctx context.Context, ref NodeRef, input json.RawMessage) (*models.ExecutionEvent, error) {
	return s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID:   ref.ExecutionID,
		Type:          models.EventTypeNodeEntered,
		Status:        models.EventStatusPending,
		NodeID:        ref.NodeID,
		NodeType:      ref.NodeType,
		NodeName:      ref.NodeName,
		InputSnapshot: input,
	})
}

// CompleteNode seals the node's NODE_ENTERED event with its output and
// appends NODE_COMPLETED carrying the post-node variables snapshot. The
// snapshot is the full variable state, which keeps replay a pure fold.
func (s *Service) CompleteNode(ctx context.Context, ref NodeRef, enteredEventID string, output json.RawMessage, variables map[string]any, durationMs int64) (*models.ExecutionEvent, error) {
	snapshot, err := json.Marshal(orEmpty(variables))
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables snapshot: %w", err)
	}

	err = s.sealEntered(ctx, enteredEventID, persistence.EventSeal{
		Status:         models.EventStatusCompleted,
		DurationMs:     durationMs,
		OutputSnapshot: output,
	})
	if err != nil {
		return nil, err
	}

	completed, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID:       ref.ExecutionID,
		Type:              models.EventTypeNodeCompleted,
		Status:            models.EventStatusCompleted,
		NodeID:            ref.NodeID,
		NodeType:          ref.NodeType,
		NodeName:          ref.NodeName,
		OutputSnapshot:    output,
		VariablesSnapshot: snapshot,
	})
	if err != nil {
		return nil, err
	}

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: ref.ExecutionID,
		TenantID:    ref.TenantID,
		Type:        models.AuditNodeExecuted,
		Data:        output,
	})

	return completed, nil
}

// FailNode seals the node's NODE_ENTERED event as failed and appends
// NODE_FAILED. The execution itself is not terminated; that is the caller's
// decision via Fail.
func (s *Service) FailNode(ctx context.Context, ref NodeRef, enteredEventID, message string, durationMs int64) (*models.ExecutionEvent, error) {
	errSnap, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, fmt.Errorf("failed to encode error snapshot: %w", err)
	}

	err = s.sealEntered(ctx, enteredEventID, persistence.EventSeal{
		Status:        models.EventStatusFailed,
		DurationMs:    durationMs,
		ErrorSnapshot: errSnap,
	})
	if err != nil {
		return nil, err
	}

	failed, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID:   ref.ExecutionID,
		Type:          models.EventTypeNodeFailed,
		Status:        models.EventStatusFailed,
		NodeID:        ref.NodeID,
		NodeType:      ref.NodeType,
		NodeName:      ref.NodeName,
		ErrorSnapshot: errSnap,
	})
	if err != nil {
		return nil, err
	}

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: ref.ExecutionID,
		TenantID:    ref.TenantID,
		Type:        models.AuditNodeFailed,
		Data:        errSnap,
	})

	return failed, nil
}

// EvaluateGateway records a routing decision and the edge taken.
func (s *Service) EvaluateGateway(ctx context.Context, ref NodeRef, decisionResult, edgeTaken string) (*models.ExecutionEvent, error) {
	event, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID:    ref.ExecutionID,
		Type:           models.EventTypeGatewayEvaluated,
		Status:         models.EventStatusCompleted,
		NodeID:         ref.NodeID,
		NodeType:       ref.NodeType,
		NodeName:       ref.NodeName,
		DecisionResult: decisionResult,
		EdgeTaken:      edgeTaken,
	})
	if err != nil {
		return nil, err
	}

	detail, _ := json.Marshal(map[string]string{
		"decision_result": decisionResult,
		"edge_taken":      edgeTaken,
	})

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: ref.ExecutionID,
		TenantID:    ref.TenantID,
		Type:        models.AuditGatewayEvaluated,
		Data:        detail,
	})

	return event, nil
}

// Pause records a pause at the given node.
func (s *Service) Pause(ctx context.Context, ref NodeRef, reason, actor string) (*models.ExecutionEvent, error) {
	event, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID: ref.ExecutionID,
		Type:        models.EventTypePaused,
		Status:      models.EventStatusCompleted,
		NodeID:      ref.NodeID,
	})
	if err != nil {
		return nil, err
	}

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: ref.ExecutionID,
		TenantID:    ref.TenantID,
		Type:        models.AuditWorkflowPaused,
		Actor:       actor,
	})

	s.publish(ctx, ref.ExecutionID, events.ExecutionPaused{
		BaseEvent:    events.NewBaseEvent(events.ExecutionPausedEvent, ref.TenantID, ""),
		ExecutionID:  ref.ExecutionID,
		PausedAtNode: ref.NodeID,
		Reason:       reason,
	})

	return event, nil
}

// Resume records that a paused execution continues.
func (s *Service) Resume(ctx context.Context, executionID, tenantID, actor string) (*models.ExecutionEvent, error) {
	event, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID: executionID,
		Type:        models.EventTypeResumed,
		Status:      models.EventStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: executionID,
		TenantID:    tenantID,
		Type:        models.AuditWorkflowResumed,
		Actor:       actor,
	})

	s.publish(ctx, executionID, events.ExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, tenantID, ""),
		ExecutionID: executionID,
		ResumedBy:   actor,
	})

	return event, nil
}

// Complete records the terminal COMPLETED event.
func (s *Service) Complete(ctx context.Context, executionID, tenantID string) (*models.ExecutionEvent, error) {
	state, err := s.replayer.Replay(ctx, executionID)
	if err != nil {
		return nil, err
	}

	event, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID: executionID,
		Type:        models.EventTypeCompleted,
		Status:      models.EventStatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: executionID,
		TenantID:    tenantID,
		Type:        models.AuditWorkflowCompleted,
	})

	s.publish(ctx, executionID, events.ExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, tenantID, state.WorkflowID),
		ExecutionID:   executionID,
		DurationMs:    time.Since(state.StartedAt).Milliseconds(),
		NodesExecuted: len(state.CompletedNodes),
	})

	return event, nil
}

// Fail records the terminal FAILED event and, when compensate is set, runs
// the saga rollback over every completed step.
func (s *Service) Fail(ctx context.Context, executionID, tenantID, message string, compensate bool) (*models.ExecutionEvent, error) {
	errSnap, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, fmt.Errorf("failed to encode error snapshot: %w", err)
	}

	event, err := s.log.Append(ctx, eventlog.AppendRequest{
		ExecutionID:   executionID,
		Type:          models.EventTypeFailed,
		Status:        models.EventStatusFailed,
		ErrorSnapshot: errSnap,
	})
	if err != nil {
		return nil, err
	}

	s.trail.TryRecord(ctx, audit.Entry{
		ExecutionID: executionID,
		TenantID:    tenantID,
		Type:        models.AuditWorkflowFailed,
		Data:        errSnap,
	})

	compensated := 0

	if compensate {
		result, err := s.tracker.Compensate(ctx, executionID)
		if err != nil {
			return nil, fmt.Errorf("failed to compensate execution: %w", err)
		}

		compensated = len(result.Compensated)

		if compensated > 0 {
			s.publish(ctx, executionID, events.ExecutionCompensated{
				BaseEvent:        events.NewBaseEvent(events.ExecutionCompensatedEvent, tenantID, ""),
				ExecutionID:      executionID,
				StepsCompensated: compensated,
			})
		}
	}

	s.publish(ctx, executionID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, tenantID, ""),
		ExecutionID: executionID,
		Error:       message,
		Compensated: compensated > 0,
	})

	return event, nil
}

// State replays the execution's log and returns its current state.
func (s *Service) State(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	return s.replayer.Replay(ctx, executionID)
}

// StateAt replays the log only up to a sequence number.
func (s *Service) StateAt(ctx context.Context, executionID string, upToSequence int64) (*models.ExecutionState, error) {
	return s.replayer.ReplayAt(ctx, executionID, upToSequence)
}

// Recover replays a crashed execution and returns its state together with
// the node it should resume from. Recovery writes nothing: the log already
// holds everything needed to continue.
func (s *Service) Recover(ctx context.Context, executionID string) (*models.ExecutionState, string, error) {
	state, err := s.replayer.Replay(ctx, executionID)
	if err != nil {
		return nil, "", err
	}

	return state, state.NextNodeID(), nil
}

func (s *Service) sealEntered(ctx context.Context, enteredEventID string, seal persistence.EventSeal) error {
	if enteredEventID == "" {
		return nil
	}

	err := s.log.Seal(ctx, enteredEventID, seal)
	if err != nil {
		return fmt.Errorf("failed to seal node entry event: %w", err)
	}

	return nil
}

func (s *Service) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	err := s.bus.Publish(ctx, key, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to publish execution event",
			"event_type", event.GetType(), "error", err)
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
