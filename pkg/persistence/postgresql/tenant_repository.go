package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
)

// TenantRepository handles tenant metadata rows.
type TenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *sql.DB, logger *slog.Logger) *TenantRepository {
	return &TenantRepository{db: db, logger: logger}
}

const tenantColumns = `
	tenant_id
  , tenant_name
  , status
  , config_json
  , created_at
  , updated_at
`

func (r *TenantRepository) Create(ctx context.Context, tenant *models.TenantMetadata) error {
	query := `
		INSERT INTO tenants (tenant_id, tenant_name, status, config_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.Status,
		nullBytes(tenant.Config),
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return persistence.ErrTenantExists
		}

		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

func (r *TenantRepository) GetByID(ctx context.Context, tenantID string) (*models.TenantMetadata, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE tenant_id = $1`

	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}

	return tenant, nil
}

func (r *TenantRepository) UpdateStatus(ctx context.Context, tenantID string, status models.TenantStatus) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE tenants SET status = $2, updated_at = $3 WHERE tenant_id = $1",
		tenantID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tenant status update: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTenantNotFound
	}

	return nil
}

func (r *TenantRepository) List(ctx context.Context) ([]*models.TenantMetadata, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY tenant_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tenants := make([]*models.TenantMetadata, 0)

	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}

		tenants = append(tenants, tenant)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

func scanTenant(row rowScanner) (*models.TenantMetadata, error) {
	var (
		tenant models.TenantMetadata
		config []byte
	)

	err := row.Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&config,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tenant.Config = config

	return &tenant, nil
}
