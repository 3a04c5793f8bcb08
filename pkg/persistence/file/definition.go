package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/sequor/pkg/models"
)

// DefinitionRepository stores all definitions in a single JSON file.
type DefinitionRepository struct {
	mu   sync.Mutex
	path string
}

func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{path: filepath.Join(root, "definitions.json")}
}

func (r *DefinitionRepository) load() ([]*models.WorkflowDefinition, error) {
	defs := make([]*models.WorkflowDefinition, 0)

	err := readJSONFile(r.path, &defs)
	if err != nil {
		return nil, err
	}

	return defs, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs, err := r.load()
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range defs {
		if existing.WorkflowID == def.WorkflowID && existing.Version == def.Version {
			defs[i] = def
			replaced = true

			break
		}
	}

	if !replaced {
		defs = append(defs, def)
	}

	return writeJSONFile(r.path, defs)
}

func (r *DefinitionRepository) GetByVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, def := range defs {
		if def.WorkflowID == workflowID && def.Version == version {
			return def, nil
		}
	}

	return nil, nil
}

func (r *DefinitionRepository) ListVersions(ctx context.Context, workflowID string) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs, err := r.load()
	if err != nil {
		return nil, err
	}

	versions := make([]*models.WorkflowDefinition, 0)

	for _, def := range defs {
		if def.WorkflowID == workflowID {
			versions = append(versions, def)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})

	return versions, nil
}

func (r *DefinitionRepository) GetActive(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs, err := r.load()
	if err != nil {
		return nil, err
	}

	var active *models.WorkflowDefinition

	for _, def := range defs {
		if def.WorkflowID != workflowID || !def.Active {
			continue
		}

		if active == nil || def.DeployedAt.After(active.DeployedAt) {
			active = def
		}
	}

	return active, nil
}

func (r *DefinitionRepository) DeactivateAll(ctx context.Context, workflowID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs, err := r.load()
	if err != nil {
		return 0, err
	}

	var touched int64

	for _, def := range defs {
		if def.WorkflowID == workflowID {
			def.Active = false
			touched++
		}
	}

	if touched == 0 {
		return 0, nil
	}

	return touched, writeJSONFile(r.path, defs)
}
