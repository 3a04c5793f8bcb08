package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/sequor/pkg/models"
)

// DefinitionRepository handles workflow definition rows.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const definitionColumns = `
	workflow_id
  , version
  , tenant_id
  , name
  , description
  , definition
  , deployed_at
  , active
`

// Save upserts a definition keyed by (workflow_id, version). Re-deploying an
// existing version overwrites payload and metadata in place; the deployment
// service decides whether that is allowed.
func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions
			(workflow_id, version, tenant_id, name, description, definition, deployed_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, version) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			definition = EXCLUDED.definition,
			deployed_at = EXCLUDED.deployed_at,
			active = EXCLUDED.active
	`

	_, err := r.db.ExecContext(ctx, query,
		def.WorkflowID,
		def.Version,
		def.TenantID,
		def.Name,
		def.Description,
		[]byte(def.Definition),
		def.DeployedAt,
		def.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) GetByVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE workflow_id = $1 AND version = $2
	`

	def, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, workflowID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return def, nil
}

func (r *DefinitionRepository) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE workflow_id = $1
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		defs = append(defs, def)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	return defs, nil
}

func (r *DefinitionRepository) GetActive(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE workflow_id = $1 AND active = TRUE
		ORDER BY deployed_at DESC
		LIMIT 1
	`

	def, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan active workflow definition: %w", err)
	}

	return def, nil
}

func (r *DefinitionRepository) DeactivateAll(ctx context.Context, workflowID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET active = FALSE WHERE workflow_id = $1", workflowID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate workflow definitions: %w", err)
	}

	touched, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deactivated definitions: %w", err)
	}

	return touched, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def        models.WorkflowDefinition
		definition []byte
	)

	err := row.Scan(
		&def.WorkflowID,
		&def.Version,
		&def.TenantID,
		&def.Name,
		&def.Description,
		&definition,
		&def.DeployedAt,
		&def.Active,
	)
	if err != nil {
		return nil, err
	}

	def.Definition = definition

	return &def, nil
}

func (r *DefinitionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
