// Package graph compiles raw workflow definitions into validated, immutable
// workflow graphs.
package graph

import (
	"errors"
	"fmt"
)

// Sentinel validation failures. Validation errors are always surfaced to the
// caller and never retried automatically.
var (
	// ErrMalformedDefinition indicates the definition payload is not valid
	// JSON or does not match the definition schema.
	ErrMalformedDefinition = errors.New("malformed workflow definition")

	// ErrMissingExecutionSection indicates the definition has no execution
	// section. An execution section with an empty node list is valid;
	// absence is not.
	ErrMissingExecutionSection = errors.New("definition has no execution section")

	// ErrDuplicateNodeID indicates two nodes share an id.
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrDanglingEdgeReference indicates an edge references a node id that
	// does not exist in the definition.
	ErrDanglingEdgeReference = errors.New("edge references unknown node")

	// ErrNoStartNode indicates no node has in-degree zero.
	ErrNoStartNode = errors.New("graph has no start node")

	// ErrCycleDetected indicates a cycle was found while compiling with
	// RequireAcyclic set.
	ErrCycleDetected = errors.New("graph contains a cycle")
)

// ValidationError wraps a compilation failure with the offending element.
type ValidationError struct {
	Err    error  // sentinel above
	NodeID string // offending node, if applicable
	Detail string // human-readable context
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("definition validation failed at node %q: %s: %v", e.NodeID, e.Detail, e.Err)
	}

	if e.Detail != "" {
		return fmt.Sprintf("definition validation failed: %s: %v", e.Detail, e.Err)
	}

	return fmt.Sprintf("definition validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError checks whether err is any compiler validation failure.
func IsValidationError(err error) bool {
	var verr *ValidationError

	return errors.As(err, &verr)
}
