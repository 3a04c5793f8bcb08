package models

import "sort"

// NodeType tags the behavior class of a graph node. The ledger does not
// execute node business logic; the type only matters for graph validation
// and for which events an execution step emits.
type NodeType string

const (
	NodeTypeStart   NodeType = "start"
	NodeTypeEnd     NodeType = "end"
	NodeTypeTask    NodeType = "task"
	NodeTypeGateway NodeType = "gateway"
)

// GraphNode is a single node of a compiled workflow graph.
type GraphNode struct {
	ID     string         `json:"id"   validate:"required"`
	Type   NodeType       `json:"type" validate:"required"`
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// GraphEdge connects two nodes. Condition is an opaque expression evaluated
// for gateway branching; empty means unconditional.
type GraphEdge struct {
	Source    string `json:"source" validate:"required"`
	Target    string `json:"target" validate:"required"`
	Condition string `json:"condition,omitempty"`
}

// WorkflowGraph is the compiled, validated form of a definition. It is built
// once by the compiler and never mutated afterwards; compiled graphs are
// shared read-only across concurrent executions.
type WorkflowGraph struct {
	WorkflowID string
	Version    int
	Hash       string

	nodes    map[string]*GraphNode
	edges    []*GraphEdge
	outgoing map[string][]*GraphEdge
	inDegree map[string]int
	starts   []string
}

// NewWorkflowGraph assembles a graph from already-validated parts. Callers
// outside the compiler should not use this directly; Compile enforces the
// integrity invariants before construction.
func NewWorkflowGraph(workflowID string, version int, hash string, nodes map[string]*GraphNode, edges []*GraphEdge) *WorkflowGraph {
	outgoing := make(map[string][]*GraphEdge)
	inDegree := make(map[string]int, len(nodes))

	for id := range nodes {
		inDegree[id] = 0
	}

	for _, edge := range edges {
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
		inDegree[edge.Target]++
	}

	starts := make([]string, 0, 1)

	for id, degree := range inDegree {
		if degree == 0 {
			starts = append(starts, id)
		}
	}

	// Stable order regardless of map iteration, so replay always resolves
	// the same start node.
	sort.Strings(starts)

	return &WorkflowGraph{
		WorkflowID: workflowID,
		Version:    version,
		Hash:       hash,
		nodes:      nodes,
		edges:      edges,
		outgoing:   outgoing,
		inDegree:   inDegree,
		starts:     starts,
	}
}

// Node returns the node with the given id, or nil.
func (g *WorkflowGraph) Node(id string) *GraphNode {
	return g.nodes[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *WorkflowGraph) NodeCount() int {
	return len(g.nodes)
}

// Edges returns the graph's edges in definition order. The returned slice
// must not be modified.
func (g *WorkflowGraph) Edges() []*GraphEdge {
	return g.edges
}

// Outgoing returns the edges leaving the given node, in definition order.
func (g *WorkflowGraph) Outgoing(nodeID string) []*GraphEdge {
	return g.outgoing[nodeID]
}

// InDegree returns the number of edges pointing at the given node.
func (g *WorkflowGraph) InDegree(nodeID string) int {
	return g.inDegree[nodeID]
}

// StartNodes returns the ids of all zero-in-degree nodes. Compilation
// guarantees at least one.
func (g *WorkflowGraph) StartNodes() []string {
	return g.starts
}

// StartNode returns the first start node in stable (lexicographic) order.
func (g *WorkflowGraph) StartNode() *GraphNode {
	if len(g.starts) == 0 {
		return nil
	}

	return g.nodes[g.starts[0]]
}
