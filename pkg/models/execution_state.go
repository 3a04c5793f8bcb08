package models

import "time"

// ExecutionStatus is the derived status of a whole execution, produced by
// folding its event log. It is never stored; replay is the source of truth.
type ExecutionStatus string

const (
	ExecutionStatusRunning     ExecutionStatus = "RUNNING"
	ExecutionStatusPaused      ExecutionStatus = "PAUSED"
	ExecutionStatusCompleted   ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed      ExecutionStatus = "FAILED"
	ExecutionStatusCompensated ExecutionStatus = "COMPENSATED"
)

// ExecutionState is the result of replaying an execution's event log.
//
// All collections have stable ordering (CompletedNodes by sequence number,
// CompensatedSequences ascending) so that replaying the same committed log
// any number of times yields states that compare equal.
type ExecutionState struct {
	ExecutionID   string          `json:"execution_id"`
	WorkflowID    string          `json:"workflow_id"`
	Status        ExecutionStatus `json:"status"`
	CurrentNodeID string          `json:"current_node_id,omitempty"`

	Variables map[string]any `json:"variables"`

	// CompletedNodes lists node ids of NODE_COMPLETED events that have not
	// been compensated, in sequence order.
	CompletedNodes []string `json:"completed_nodes"`

	// CompensatedSequences lists the sequence numbers undone by COMPENSATED
	// events, ascending.
	CompensatedSequences []int64 `json:"compensated_sequences"`

	FailureError string `json:"failure_error,omitempty"`

	LastSequence int64      `json:"last_sequence"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// NextNodeID returns the node an execution should resume from, or empty when
// the execution is terminal.
func (s *ExecutionState) NextNodeID() string {
	switch s.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCompensated:
		return ""
	case ExecutionStatusRunning, ExecutionStatusPaused:
		return s.CurrentNodeID
	default:
		return s.CurrentNodeID
	}
}
