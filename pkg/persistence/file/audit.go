package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/sequor/pkg/models"
)

// AuditRepository stores the audit stream in a single JSON file.
type AuditRepository struct {
	mu   sync.Mutex
	path string
}

func NewAuditRepository(root string) *AuditRepository {
	return &AuditRepository{path: filepath.Join(root, "audit.json")}
}

func (r *AuditRepository) load() ([]*models.AuditLogEntry, error) {
	entries := make([]*models.AuditLogEntry, 0)

	err := readJSONFile(r.path, &entries)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	return writeJSONFile(r.path, entries)
}

func (r *AuditRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.AuditLogEntry, 0)

	for _, entry := range entries {
		if entry.ExecutionID == executionID {
			filtered = append(filtered, entry)
		}
	}

	sortByTimestamp(filtered)

	return filtered, nil
}

func (r *AuditRepository) ListByTenantWindow(ctx context.Context, tenantID string, from, to time.Time) ([]*models.AuditLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.AuditLogEntry, 0)

	for _, entry := range entries {
		if entry.TenantID != tenantID {
			continue
		}

		if entry.Timestamp.Before(from) || entry.Timestamp.After(to) {
			continue
		}

		filtered = append(filtered, entry)
	}

	sortByTimestamp(filtered)

	return filtered, nil
}

func (r *AuditRepository) CountByTenantAndType(ctx context.Context, tenantID string, eventType models.AuditEventType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return 0, err
	}

	var count int64

	for _, entry := range entries {
		if entry.TenantID == tenantID && entry.Type == eventType {
			count++
		}
	}

	return count, nil
}

func sortByTimestamp(entries []*models.AuditLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
