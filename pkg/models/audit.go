package models

import (
	"encoding/json"
	"time"
)

// AuditEventType is the coarse compliance-level event enum. It is
// intentionally smaller than EventType: the audit trail answers "who did
// what when" for compliance queries and is never used for replay.
type AuditEventType string

const (
	AuditWorkflowStarted   AuditEventType = "WORKFLOW_STARTED"
	AuditWorkflowCompleted AuditEventType = "WORKFLOW_COMPLETED"
	AuditWorkflowFailed    AuditEventType = "WORKFLOW_FAILED"
	AuditWorkflowPaused    AuditEventType = "WORKFLOW_PAUSED"
	AuditWorkflowResumed   AuditEventType = "WORKFLOW_RESUMED"
	AuditNodeExecuted      AuditEventType = "NODE_EXECUTED"
	AuditNodeFailed        AuditEventType = "NODE_FAILED"
	AuditLockAcquired      AuditEventType = "LOCK_ACQUIRED"
	AuditLockReleased      AuditEventType = "LOCK_RELEASED"
	AuditVariableUpdated   AuditEventType = "VARIABLE_UPDATED"
	AuditGatewayEvaluated  AuditEventType = "GATEWAY_EVALUATED"
	AuditRuleExecuted      AuditEventType = "RULE_EXECUTED"
)

// AuditLogEntry is a tenant-scoped compliance record. The stream is
// append-only and ordered by timestamp only; there is no sequence invariant.
type AuditLogEntry struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	TenantID    string          `json:"tenant_id"`
	Type        AuditEventType  `json:"event_type"`
	Data        json.RawMessage `json:"event_data,omitempty"`
	Actor       string          `json:"actor"`
	Timestamp   time.Time       `json:"timestamp"`
}
