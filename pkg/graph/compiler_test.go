package graph

import (
	"testing"

	"github.com/dukex/sequor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDefinition = `{
	"workflow_id": "order-fulfillment",
	"version": 1,
	"name": "Order Fulfillment",
	"execution": {
		"nodes": [
			{"id": "start", "type": "start", "name": "Start"},
			{"id": "reserve", "type": "task", "name": "Reserve Stock"},
			{"id": "charge", "type": "task", "name": "Charge Card"},
			{"id": "route", "type": "gateway", "name": "Route"},
			{"id": "done", "type": "end", "name": "Done"}
		],
		"edges": [
			{"source": "start", "target": "reserve"},
			{"source": "reserve", "target": "charge"},
			{"source": "charge", "target": "route"},
			{"source": "route", "target": "done", "condition": "charged == true"}
		]
	}
}`

func TestCompile_ValidDefinition(t *testing.T) {
	compiled, err := Compile([]byte(validDefinition), CompileOptions{})
	require.NoError(t, err)
	require.NotNil(t, compiled)

	assert.Equal(t, "order-fulfillment", compiled.WorkflowID)
	assert.Equal(t, 1, compiled.Version)
	assert.Equal(t, 5, compiled.NodeCount())
	assert.NotEmpty(t, compiled.Hash)

	require.NotNil(t, compiled.StartNode())
	assert.Equal(t, "start", compiled.StartNode().ID)

	assert.Len(t, compiled.Outgoing("start"), 1)
	assert.Equal(t, "reserve", compiled.Outgoing("start")[0].Target)
	assert.Equal(t, 1, compiled.InDegree("done"))
}

func TestCompile_Deterministic(t *testing.T) {
	first, err := Compile([]byte(validDefinition), CompileOptions{})
	require.NoError(t, err)

	second, err := Compile([]byte(validDefinition), CompileOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.StartNodes(), second.StartNodes())
	assert.Equal(t, first.NodeCount(), second.NodeCount())
}

func TestCompile_HashIgnoresWhitespace(t *testing.T) {
	compact := `{"workflow_id":"w","version":1,"execution":{"nodes":[{"id":"a","type":"start"}],"edges":[]}}`
	spaced := `{
		"workflow_id": "w",
		"version": 1,
		"execution": {"nodes": [{"id": "a", "type": "start"}], "edges": []}
	}`

	assert.Equal(t, Hash([]byte(compact)), Hash([]byte(spaced)))
}

func TestCompile_MissingExecutionSection(t *testing.T) {
	raw := `{"workflow_id": "w", "version": 1, "name": "No Execution"}`

	_, err := Compile([]byte(raw), CompileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingExecutionSection)
	assert.True(t, IsValidationError(err))
}

func TestCompile_DuplicateNodeID(t *testing.T) {
	raw := `{
		"workflow_id": "w", "version": 1,
		"execution": {
			"nodes": [
				{"id": "a", "type": "start"},
				{"id": "a", "type": "task"}
			],
			"edges": []
		}
	}`

	_, err := Compile([]byte(raw), CompileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateNodeID)

	var verr *ValidationError

	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a", verr.NodeID)
}

func TestCompile_DanglingEdgeReference(t *testing.T) {
	raw := `{
		"workflow_id": "w", "version": 1,
		"execution": {
			"nodes": [{"id": "a", "type": "start"}],
			"edges": [{"source": "a", "target": "ghost"}]
		}
	}`

	_, err := Compile([]byte(raw), CompileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingEdgeReference)
}

func TestCompile_NoStartNode(t *testing.T) {
	raw := `{
		"workflow_id": "w", "version": 1,
		"execution": {
			"nodes": [
				{"id": "a", "type": "task"},
				{"id": "b", "type": "task"}
			],
			"edges": [
				{"source": "a", "target": "b"},
				{"source": "b", "target": "a"}
			]
		}
	}`

	_, err := Compile([]byte(raw), CompileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoStartNode)
}

func TestCompile_EmptyNodeListIsValid(t *testing.T) {
	raw := `{"workflow_id": "w", "version": 1, "execution": {"nodes": [], "edges": []}}`

	compiled, err := Compile([]byte(raw), CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, compiled.NodeCount())
	assert.Nil(t, compiled.StartNode())
}

func TestCompile_MalformedJSON(t *testing.T) {
	_, err := Compile([]byte(`{"workflow_id": `), CompileOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedDefinition)
}

func TestCompile_CycleAllowedByDefault(t *testing.T) {
	raw := `{
		"workflow_id": "w", "version": 1,
		"execution": {
			"nodes": [
				{"id": "start", "type": "start"},
				{"id": "a", "type": "task"},
				{"id": "b", "type": "task"}
			],
			"edges": [
				{"source": "start", "target": "a"},
				{"source": "a", "target": "b"},
				{"source": "b", "target": "a"}
			]
		}
	}`

	compiled, err := Compile([]byte(raw), CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, compiled.NodeCount())
}

func TestCompile_CycleRejectedWhenRequired(t *testing.T) {
	raw := `{
		"workflow_id": "w", "version": 1,
		"execution": {
			"nodes": [
				{"id": "start", "type": "start"},
				{"id": "a", "type": "task"},
				{"id": "b", "type": "task"}
			],
			"edges": [
				{"source": "start", "target": "a"},
				{"source": "a", "target": "b"},
				{"source": "b", "target": "a"}
			]
		}
	}`

	_, err := Compile([]byte(raw), CompileOptions{RequireAcyclic: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestCompile_StartNodesSorted(t *testing.T) {
	raw := `{
		"workflow_id": "w", "version": 1,
		"execution": {
			"nodes": [
				{"id": "zeta", "type": "start"},
				{"id": "alpha", "type": "start"},
				{"id": "mid", "type": "task"}
			],
			"edges": [
				{"source": "zeta", "target": "mid"},
				{"source": "alpha", "target": "mid"}
			]
		}
	}`

	compiled, err := Compile([]byte(raw), CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, compiled.StartNodes())
	assert.Equal(t, "alpha", compiled.StartNode().ID)
}

func TestCompile_NodeLookup(t *testing.T) {
	compiled, err := Compile([]byte(validDefinition), CompileOptions{})
	require.NoError(t, err)

	node := compiled.Node("route")
	require.NotNil(t, node)
	assert.Equal(t, models.NodeTypeGateway, node.Type)

	assert.Nil(t, compiled.Node("missing"))
}
