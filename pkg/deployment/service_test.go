package deployment

import (
	"log/slog"
	"testing"

	"github.com/dukex/sequor/pkg/audit"
	"github.com/dukex/sequor/pkg/graph"
	"github.com/dukex/sequor/pkg/persistence"
	"github.com/dukex/sequor/pkg/persistence/file"
	"github.com/dukex/sequor/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderDefinition = `{
	"workflow_id": "order-fulfillment",
	"version": 1,
	"execution": {
		"nodes": [
			{"id": "start", "type": "start"},
			{"id": "reserve", "type": "task"},
			{"id": "done", "type": "end"}
		],
		"edges": [
			{"source": "start", "target": "reserve"},
			{"source": "reserve", "target": "done"}
		]
	}
}`

func newTestService(t *testing.T) *Service {
	t.Helper()

	persist := file.NewPersistence(t.TempDir())
	logger := slog.Default()
	tenants := tenant.NewRegistry(persist.TenantRepository(), logger)
	trail := audit.NewTrail(persist.AuditRepository(), logger)
	cache := graph.NewCache(logger, graph.CompileOptions{})

	_, err := tenants.Register(t.Context(), "acme", "Acme Corp", nil)
	require.NoError(t, err)

	return NewService(persist.DefinitionRepository(), tenants, cache, trail, nil, logger)
}

func deployRequest(version int) DeployRequest {
	return DeployRequest{
		WorkflowID: "order-fulfillment",
		Version:    version,
		TenantID:   "acme",
		Name:       "Order Fulfillment",
		Definition: []byte(orderDefinition),
	}
}

func TestService_Deploy(t *testing.T) {
	service := newTestService(t)

	def, compiled, err := service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	assert.True(t, def.Active)
	assert.Equal(t, 3, compiled.NodeCount())
	assert.NotEmpty(t, compiled.Hash)

	active, _, err := service.GetActive(t.Context(), "order-fulfillment")
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
}

func TestService_DeployInvalidDefinitionLeavesNoRow(t *testing.T) {
	service := newTestService(t)

	req := deployRequest(1)
	req.Definition = []byte(`{"workflow_id": "order-fulfillment", "version": 1}`)

	_, _, err := service.Deploy(t.Context(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrMissingExecutionSection)

	_, _, err = service.GetActive(t.Context(), "order-fulfillment")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestService_DeploySuspendedTenantRejected(t *testing.T) {
	service := newTestService(t)

	require.NoError(t, service.tenants.Suspend(t.Context(), "acme"))

	_, _, err := service.Deploy(t.Context(), deployRequest(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrTenantSuspended)
}

func TestService_DeployMissingNameRejected(t *testing.T) {
	service := newTestService(t)

	req := deployRequest(1)
	req.Name = ""

	_, _, err := service.Deploy(t.Context(), req)
	require.Error(t, err)
}

func TestService_RedeployOverwriteByDefault(t *testing.T) {
	service := newTestService(t)

	_, _, err := service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	req := deployRequest(1)
	req.Description = "fixed routing"

	_, _, err = service.Deploy(t.Context(), req)
	require.NoError(t, err)

	def, _, err := service.GetVersion(t.Context(), "order-fulfillment", 1)
	require.NoError(t, err)
	assert.Equal(t, "fixed routing", def.Description)
}

func TestService_RedeployRejectPolicy(t *testing.T) {
	service := newTestService(t).WithRedeployPolicy(RedeployReject)

	_, _, err := service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	_, _, err = service.Deploy(t.Context(), deployRequest(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionExists)

	// A new version is still accepted.
	_, _, err = service.Deploy(t.Context(), deployRequest(2))
	require.NoError(t, err)
}

func TestService_SingleActiveVersion(t *testing.T) {
	service := newTestService(t)

	_, _, err := service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	_, _, err = service.Deploy(t.Context(), deployRequest(2))
	require.NoError(t, err)

	active, _, err := service.GetActive(t.Context(), "order-fulfillment")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	versions, err := service.ListVersions(t.Context(), "order-fulfillment")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	activeCount := 0

	for _, def := range versions {
		if def.Active {
			activeCount++
		}
	}

	assert.Equal(t, 1, activeCount)
}

func TestService_Undeploy(t *testing.T) {
	service := newTestService(t)

	_, _, err := service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	removed, err := service.Undeploy(t.Context(), "acme", "order-fulfillment", "ops@acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, _, err = service.GetActive(t.Context(), "order-fulfillment")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))

	// History stays queryable after undeploy.
	def, _, err := service.GetVersion(t.Context(), "order-fulfillment", 1)
	require.NoError(t, err)
	assert.False(t, def.Active)
}

func TestService_DeployTakenWorkflowIDRejected(t *testing.T) {
	service := newTestService(t)

	_, err := service.tenants.Register(t.Context(), "rival", "Rival Inc", nil)
	require.NoError(t, err)

	_, _, err = service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	req := deployRequest(2)
	req.TenantID = "rival"

	_, _, err = service.Deploy(t.Context(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowIDTaken)

	// The owner's deployment is untouched.
	active, _, err := service.GetActive(t.Context(), "order-fulfillment")
	require.NoError(t, err)
	assert.Equal(t, "acme", active.TenantID)
	assert.Equal(t, 1, active.Version)
}

func TestService_UndeployOtherTenantsWorkflowRejected(t *testing.T) {
	service := newTestService(t)

	_, err := service.tenants.Register(t.Context(), "rival", "Rival Inc", nil)
	require.NoError(t, err)

	_, _, err = service.Deploy(t.Context(), deployRequest(1))
	require.NoError(t, err)

	// A foreign tenant sees the workflow as absent.
	_, err = service.Undeploy(t.Context(), "rival", "order-fulfillment", "ops@rival")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))

	active, _, err := service.GetActive(t.Context(), "order-fulfillment")
	require.NoError(t, err)
	assert.True(t, active.Active)
}

func TestService_UndeployMissingWorkflow(t *testing.T) {
	service := newTestService(t)

	_, err := service.Undeploy(t.Context(), "acme", "ghost", "")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}
