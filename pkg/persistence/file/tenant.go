package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
)

// TenantRepository stores tenants in a single JSON file.
type TenantRepository struct {
	mu   sync.Mutex
	path string
}

func NewTenantRepository(root string) *TenantRepository {
	return &TenantRepository{path: filepath.Join(root, "tenants.json")}
}

func (r *TenantRepository) load() ([]*models.TenantMetadata, error) {
	tenants := make([]*models.TenantMetadata, 0)

	err := readJSONFile(r.path, &tenants)
	if err != nil {
		return nil, err
	}

	return tenants, nil
}

func (r *TenantRepository) Create(ctx context.Context, tenant *models.TenantMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, err := r.load()
	if err != nil {
		return err
	}

	for _, existing := range tenants {
		if existing.TenantID == tenant.TenantID {
			return persistence.ErrTenantExists
		}
	}

	tenants = append(tenants, tenant)

	return writeJSONFile(r.path, tenants)
}

func (r *TenantRepository) GetByID(ctx context.Context, tenantID string) (*models.TenantMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, tenant := range tenants {
		if tenant.TenantID == tenantID {
			return tenant, nil
		}
	}

	return nil, nil
}

func (r *TenantRepository) UpdateStatus(ctx context.Context, tenantID string, status models.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, err := r.load()
	if err != nil {
		return err
	}

	for _, tenant := range tenants {
		if tenant.TenantID != tenantID {
			continue
		}

		tenant.Status = status
		tenant.UpdatedAt = time.Now().UTC()

		return writeJSONFile(r.path, tenants)
	}

	return persistence.ErrTenantNotFound
}

func (r *TenantRepository) List(ctx context.Context) ([]*models.TenantMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, err := r.load()
	if err != nil {
		return nil, err
	}

	sort.Slice(tenants, func(i, j int) bool {
		return tenants[i].TenantID < tenants[j].TenantID
	})

	return tenants, nil
}
