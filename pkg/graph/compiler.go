package graph

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/sequor/pkg/models"
)

// CompileOptions tunes per-deployment validation behavior.
type CompileOptions struct {
	// RequireAcyclic rejects graphs containing cycles. Off by default:
	// loop-back edges are legitimate for retry and iteration constructs.
	RequireAcyclic bool
}

// Compile validates a raw definition payload and builds an immutable
// WorkflowGraph. It is a pure function: identical payloads always yield
// graphs with identical structure and identical content hash, so results
// are safe to cache and to share across concurrent executions.
func Compile(raw []byte, opts CompileOptions) (*models.WorkflowGraph, error) {
	result, err := validateSchema(raw)
	if err != nil {
		return nil, &ValidationError{Err: ErrMalformedDefinition, Detail: err.Error()}
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, &ValidationError{Err: ErrMalformedDefinition, Detail: strings.Join(details, "; ")}
	}

	var doc models.DefinitionDocument

	err = json.Unmarshal(raw, &doc)
	if err != nil {
		return nil, &ValidationError{Err: ErrMalformedDefinition, Detail: err.Error()}
	}

	if doc.Execution == nil {
		return nil, &ValidationError{Err: ErrMissingExecutionSection}
	}

	nodes := make(map[string]*models.GraphNode, len(doc.Execution.Nodes))

	for _, node := range doc.Execution.Nodes {
		if _, exists := nodes[node.ID]; exists {
			return nil, &ValidationError{Err: ErrDuplicateNodeID, NodeID: node.ID}
		}

		nodes[node.ID] = node
	}

	for _, edge := range doc.Execution.Edges {
		if _, exists := nodes[edge.Source]; !exists {
			return nil, &ValidationError{
				Err:    ErrDanglingEdgeReference,
				NodeID: edge.Source,
				Detail: fmt.Sprintf("edge %s -> %s", edge.Source, edge.Target),
			}
		}

		if _, exists := nodes[edge.Target]; !exists {
			return nil, &ValidationError{
				Err:    ErrDanglingEdgeReference,
				NodeID: edge.Target,
				Detail: fmt.Sprintf("edge %s -> %s", edge.Source, edge.Target),
			}
		}
	}

	if len(nodes) > 0 && !hasStartNode(nodes, doc.Execution.Edges) {
		return nil, &ValidationError{Err: ErrNoStartNode}
	}

	if opts.RequireAcyclic {
		if cycle := findCycle(nodes, doc.Execution.Edges); len(cycle) > 0 {
			return nil, &ValidationError{
				Err:    ErrCycleDetected,
				Detail: strings.Join(cycle, " -> "),
			}
		}
	}

	return models.NewWorkflowGraph(doc.WorkflowID, doc.Version, Hash(raw), nodes, doc.Execution.Edges), nil
}

func hasStartNode(nodes map[string]*models.GraphNode, edges []*models.GraphEdge) bool {
	inDegree := make(map[string]int, len(nodes))

	for _, edge := range edges {
		inDegree[edge.Target]++
	}

	for id := range nodes {
		if inDegree[id] == 0 {
			return true
		}
	}

	return false
}

// findCycle runs a three-color depth-first search and returns the node ids
// of the first cycle found, or nil.
func findCycle(nodes map[string]*models.GraphNode, edges []*models.GraphEdge) []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)

	adjacency := make(map[string][]string, len(nodes))
	for _, edge := range edges {
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	color := make(map[string]int, len(nodes))
	parent := make(map[string]string, len(nodes))

	var cycle []string

	var visit func(id string) bool

	visit = func(id string) bool {
		color[id] = gray

		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				parent[next] = id
				if visit(next) {
					return true
				}
			case gray:
				// Back edge: walk parents to materialize the cycle path.
				cycle = append(cycle, next)
				for cur := id; cur != next && cur != ""; cur = parent[cur] {
					cycle = append(cycle, cur)
				}

				cycle = append(cycle, next)

				return true
			}
		}

		color[id] = black

		return false
	}

	for id := range nodes {
		if color[id] == white && visit(id) {
			return cycle
		}
	}

	return nil
}

// Hash derives the content hash used as the compiled-graph cache key.
// Insignificant whitespace is stripped first so that reformatting a
// definition does not change its identity.
func Hash(raw []byte) string {
	var compact bytes.Buffer

	if err := json.Compact(&compact, raw); err != nil {
		// Not valid JSON; hash the raw bytes, compilation will reject it.
		sum := sha256.Sum256(raw)

		return hex.EncodeToString(sum[:])
	}

	sum := sha256.Sum256(compact.Bytes())

	return hex.EncodeToString(sum[:])
}
