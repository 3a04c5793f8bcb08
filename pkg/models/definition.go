// Package models defines the core domain models for the workflow event ledger.
package models

import (
	"encoding/json"
	"time"
)

// WorkflowDefinition is a deployed workflow revision. A workflow is identified
// by (WorkflowID, Version), unique together; rows are deactivated on undeploy
// but never physically deleted.
type WorkflowDefinition struct {
	WorkflowID  string          `json:"workflow_id" validate:"required"`
	Version     int             `json:"version"     validate:"required,min=1"`
	TenantID    string          `json:"tenant_id"   validate:"required"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"  validate:"required"`
	DeployedAt  time.Time       `json:"deployed_at"`
	Active      bool            `json:"active"`
}

// DefinitionDocument is the parsed shape of WorkflowDefinition.Definition.
// The execution section carries the node and edge lists the compiler
// validates; its absence is a validation error, an empty node list is not.
type DefinitionDocument struct {
	WorkflowID  string            `json:"workflow_id"`
	Version     int               `json:"version"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Execution   *ExecutionSection `json:"execution"`
}

// ExecutionSection holds the graph topology of a definition.
type ExecutionSection struct {
	Nodes []*GraphNode `json:"nodes"`
	Edges []*GraphEdge `json:"edges"`
}
