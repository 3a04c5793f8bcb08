// Package tenant manages tenant metadata and gates admission of new work.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
)

var (
	// ErrTenantSuspended rejects new work for a suspended tenant.
	ErrTenantSuspended = errors.New("tenant is suspended")

	// ErrTenantInactive rejects new work for an inactive tenant.
	ErrTenantInactive = errors.New("tenant is inactive")
)

// Registry is the tenant registry service. Historical reads are never gated
// here; only the start of new executions passes through EnsureAdmission.
type Registry struct {
	tenants persistence.TenantRepository
	logger  *slog.Logger
}

// NewRegistry creates a tenant registry over the given repository.
func NewRegistry(tenants persistence.TenantRepository, logger *slog.Logger) *Registry {
	return &Registry{tenants: tenants, logger: logger}
}

// Register creates a tenant. A zero status defaults to ACTIVE.
func (r *Registry) Register(ctx context.Context, tenantID, name string, config []byte) (*models.TenantMetadata, error) {
	now := time.Now().UTC()

	tenant := &models.TenantMetadata{
		TenantID:  tenantID,
		Name:      name,
		Status:    models.TenantStatusActive,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.tenants.Create(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to register tenant %s: %w", tenantID, err)
	}

	r.logger.InfoContext(ctx, "tenant registered", "tenant_id", tenantID)

	return tenant, nil
}

// Get returns a tenant or ErrTenantNotFound.
func (r *Registry) Get(ctx context.Context, tenantID string) (*models.TenantMetadata, error) {
	tenant, err := r.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	if tenant == nil {
		return nil, persistence.ErrTenantNotFound
	}

	return tenant, nil
}

// Suspend blocks new executions for the tenant. In-flight executions are
// unaffected; suspension gates admission only.
func (r *Registry) Suspend(ctx context.Context, tenantID string) error {
	return r.setStatus(ctx, tenantID, models.TenantStatusSuspended)
}

// Activate re-admits new executions for the tenant.
func (r *Registry) Activate(ctx context.Context, tenantID string) error {
	return r.setStatus(ctx, tenantID, models.TenantStatusActive)
}

// Deactivate retires the tenant. History stays readable.
func (r *Registry) Deactivate(ctx context.Context, tenantID string) error {
	return r.setStatus(ctx, tenantID, models.TenantStatusInactive)
}

func (r *Registry) setStatus(ctx context.Context, tenantID string, status models.TenantStatus) error {
	err := r.tenants.UpdateStatus(ctx, tenantID, status)
	if err != nil {
		return fmt.Errorf("failed to update tenant %s status: %w", tenantID, err)
	}

	r.logger.InfoContext(ctx, "tenant status updated", "tenant_id", tenantID, "status", status)

	return nil
}

// List returns all tenants ordered by id.
func (r *Registry) List(ctx context.Context) ([]*models.TenantMetadata, error) {
	return r.tenants.List(ctx)
}

// EnsureAdmission checks that the tenant may start new work, returning the
// tenant on success. The check happens before any event is appended, so a
// rejected start leaves no trace in the execution log.
func (r *Registry) EnsureAdmission(ctx context.Context, tenantID string) (*models.TenantMetadata, error) {
	tenant, err := r.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	switch tenant.Status {
	case models.TenantStatusActive:
		return tenant, nil
	case models.TenantStatusSuspended:
		return nil, ErrTenantSuspended
	case models.TenantStatusInactive:
		return nil, ErrTenantInactive
	default:
		return nil, fmt.Errorf("tenant %s has unknown status %q", tenantID, tenant.Status)
	}
}
