// Package events defines the notification events published on the bus when
// workflows are deployed and executions progress. These are fire-and-forget
// signals for downstream consumers; the execution event log, not the bus, is
// the source of truth.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "sequor.executions"                // Execution lifecycle events
const DeploymentTopic = "sequor.deployments"     // Workflow deploy/undeploy events
const CompensationTopic = "sequor.compensations" // Saga rollback events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Deployment lifecycle events.
	WorkflowDeployedEvent   EventType = "workflow.deployed"
	WorkflowUndeployedEvent EventType = "workflow.undeployed"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"

	// Compensation events.
	ExecutionCompensatedEvent EventType = "execution.compensated"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type WorkflowDeployed struct {
	BaseEvent

	Version   int    `json:"version"`
	GraphHash string `json:"graph_hash"`
	Redeploy  bool   `json:"redeploy"`
}

func (w WorkflowDeployed) GetType() EventType {
	return WorkflowDeployedEvent
}

type WorkflowUndeployed struct {
	BaseEvent

	VersionsRemoved int64 `json:"versions_removed"`
}

func (w WorkflowUndeployed) GetType() EventType {
	return WorkflowUndeployedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Version     int            `json:"version"`
	Variables   map[string]any `json:"variables,omitempty"`
	Initiator   string         `json:"initiator"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	DurationMs    int64  `json:"duration_ms"`
	NodesExecuted int    `json:"nodes_executed"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
	NodeID      string `json:"node_id,omitempty"`
	Compensated bool   `json:"compensated"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionPaused struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	PausedAtNode string `json:"paused_at_node"`
	Reason       string `json:"reason,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	ResumedBy   string `json:"resumed_by"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type ExecutionCompensated struct {
	BaseEvent

	ExecutionID      string `json:"execution_id"`
	StepsCompensated int    `json:"steps_compensated"`
}

func (e ExecutionCompensated) GetType() EventType {
	return ExecutionCompensatedEvent
}
