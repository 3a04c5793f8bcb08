package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the variant tag of an execution event.
type EventType string

const (
	EventTypeStarted          EventType = "STARTED"
	EventTypeNodeEntered      EventType = "NODE_ENTERED"
	EventTypeNodeCompleted    EventType = "NODE_COMPLETED"
	EventTypeNodeFailed       EventType = "NODE_FAILED"
	EventTypeGatewayEvaluated EventType = "GATEWAY_EVALUATED"
	EventTypePaused           EventType = "PAUSED"
	EventTypeResumed          EventType = "RESUMED"
	EventTypeCompensated      EventType = "COMPENSATED"
	EventTypeCompleted        EventType = "COMPLETED"
	EventTypeFailed           EventType = "FAILED"
)

// EventStatus is the lifecycle state of a single event row.
type EventStatus string

const (
	EventStatusPending     EventStatus = "PENDING"
	EventStatusInProgress  EventStatus = "IN_PROGRESS"
	EventStatusCompleted   EventStatus = "COMPLETED"
	EventStatusFailed      EventStatus = "FAILED"
	EventStatusCompensated EventStatus = "COMPENSATED"
	EventStatusSkipped     EventStatus = "SKIPPED"
)

// Compensable reports whether a completed event of this type is undone by
// the compensation tracker. Lifecycle markers and gateway decisions carry no
// forward effect to reverse.
func (t EventType) Compensable() bool {
	switch t {
	case EventTypeNodeCompleted:
		return true
	case EventTypeStarted, EventTypeNodeEntered, EventTypeNodeFailed,
		EventTypeGatewayEvaluated, EventTypePaused, EventTypeResumed,
		EventTypeCompensated, EventTypeCompleted, EventTypeFailed:
		return false
	default:
		return false
	}
}

// ExecutionEvent is one row of the append-only execution ledger.
//
// ExecutionID, SequenceNumber, Type and IdempotencyKey are immutable for the
// life of the record. Status, duration, the completion snapshots, and the
// compensation linkage are each written once after creation and sealed
// (enforced by the event repository, not by convention here).
type ExecutionEvent struct {
	ID             string      `json:"id"`
	ExecutionID    string      `json:"execution_id"`
	SequenceNumber int64       `json:"sequence_number"`
	Type           EventType   `json:"event_type"`
	Status         EventStatus `json:"status"`

	NodeID   string `json:"node_id,omitempty"`
	NodeType string `json:"node_type,omitempty"`
	NodeName string `json:"node_name,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`

	InputSnapshot     json.RawMessage `json:"input_snapshot,omitempty"`
	OutputSnapshot    json.RawMessage `json:"output_snapshot,omitempty"`
	ErrorSnapshot     json.RawMessage `json:"error_snapshot,omitempty"`
	VariablesSnapshot json.RawMessage `json:"variables_snapshot,omitempty"`

	EdgeTaken      string `json:"edge_taken,omitempty"`
	DecisionResult string `json:"decision_result,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`

	Compensated         bool   `json:"compensated"`
	CompensationEventID string `json:"compensation_event_id,omitempty"`
}

// IdempotencyKey derives the globally unique admission key for an event
// slot. It is a pure function of the event identity, so a retried append of
// the same logical event always lands on the same key.
func IdempotencyKey(executionID string, sequenceNumber int64, eventType EventType) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%s", executionID, sequenceNumber, eventType))

	return hex.EncodeToString(sum[:])
}
