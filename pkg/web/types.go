// Package web provides the REST API for workflow deployment, execution
// history, tenants and audit queries.
package web

import (
	"encoding/json"

	"github.com/dukex/sequor/pkg/models"
)

// DeployWorkflowRequest is the body of POST /workflows.
type DeployWorkflowRequest struct {
	WorkflowID  string          `json:"workflow_id" validate:"required"`
	Version     int             `json:"version"     validate:"required,min=1"`
	TenantID    string          `json:"tenant_id"   validate:"required"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"  validate:"required"`
}

// DeployWorkflowResponse returns the stored definition plus graph facts the
// caller usually wants immediately.
type DeployWorkflowResponse struct {
	Definition *models.WorkflowDefinition `json:"definition"`
	GraphHash  string                     `json:"graph_hash"`
	NodeCount  int                        `json:"node_count"`
	StartNodes []string                   `json:"start_nodes"`
}

// StartExecutionRequest is the body of POST /executions.
type StartExecutionRequest struct {
	TenantID   string         `json:"tenant_id"   validate:"required"`
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// StartExecutionResponse returns the admitted STARTED event.
type StartExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Event       *models.ExecutionEvent `json:"event"`
}

// AppendEventRequest is the body of POST /executions/:id/events. It exposes
// the step-level operations for external node runners.
type AppendEventRequest struct {
	TenantID       string          `json:"tenant_id"        validate:"required"`
	Type           string          `json:"event_type"       validate:"required"`
	NodeID         string          `json:"node_id,omitempty"`
	NodeType       string          `json:"node_type,omitempty"`
	NodeName       string          `json:"node_name,omitempty"`
	EnteredEventID string          `json:"entered_event_id,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Variables      map[string]any  `json:"variables,omitempty"`
	Error          string          `json:"error,omitempty"`
	DecisionResult string          `json:"decision_result,omitempty"`
	EdgeTaken      string          `json:"edge_taken,omitempty"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
}

// FailExecutionRequest is the body of POST /executions/:id/fail.
type FailExecutionRequest struct {
	TenantID   string `json:"tenant_id" validate:"required"`
	Error      string `json:"error"     validate:"required"`
	Compensate bool   `json:"compensate"`
}

// CreateTenantRequest is the body of POST /tenants.
type CreateTenantRequest struct {
	TenantID string          `json:"tenant_id"   validate:"required"`
	Name     string          `json:"tenant_name" validate:"required,min=1"`
	Config   json.RawMessage `json:"config_json,omitempty"`
}
