package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/sequor/pkg/models"
	"github.com/dukex/sequor/pkg/persistence"
)

// EventRepository stores one JSON file per execution under events/. The
// uniqueness and seal-once guarantees are enforced in code under a single
// repository lock, matching what the SQL schema enforces with constraints.
type EventRepository struct {
	mu   sync.Mutex
	root string
}

func NewEventRepository(root string) *EventRepository {
	return &EventRepository{root: filepath.Join(root, "events")}
}

func (r *EventRepository) executionPath(executionID string) string {
	return filepath.Join(r.root, executionID+".json")
}

func (r *EventRepository) load(executionID string) ([]*models.ExecutionEvent, error) {
	events := make([]*models.ExecutionEvent, 0)

	err := readJSONFile(r.executionPath(executionID), &events)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].SequenceNumber < events[j].SequenceNumber
	})

	return events, nil
}

func (r *EventRepository) save(executionID string, events []*models.ExecutionEvent) error {
	return writeJSONFile(r.executionPath(executionID), events)
}

func (r *EventRepository) Append(ctx context.Context, event *models.ExecutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.findByIdempotencyKey(event.IdempotencyKey)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewEventError("Append", event.ExecutionID, event.SequenceNumber, persistence.ErrDuplicateIdempotencyKey)
	}

	events, err := r.load(event.ExecutionID)
	if err != nil {
		return err
	}

	for _, e := range events {
		if e.SequenceNumber == event.SequenceNumber {
			return persistence.NewEventError("Append", event.ExecutionID, event.SequenceNumber, persistence.ErrSequenceConflict)
		}
	}

	events = append(events, event)

	return r.save(event.ExecutionID, events)
}

func (r *EventRepository) MaxSequence(ctx context.Context, executionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	return events[len(events)-1].SequenceNumber, nil
}

func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.findBy(func(e *models.ExecutionEvent) bool { return e.ID == id })
}

func (r *EventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.findByIdempotencyKey(key)
}

func (r *EventRepository) ListByExecution(ctx context.Context, executionID string) ([]*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(executionID)
}

func (r *EventRepository) ListRange(ctx context.Context, executionID string, startSeq, endSeq int64) ([]*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	ranged := make([]*models.ExecutionEvent, 0)

	for _, e := range events {
		if e.SequenceNumber >= startSeq && e.SequenceNumber <= endSeq {
			ranged = append(ranged, e)
		}
	}

	return ranged, nil
}

func (r *EventRepository) Last(ctx context.Context, executionID string) (*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, nil
	}

	return events[len(events)-1], nil
}

func (r *EventRepository) CountByExecution(ctx context.Context, executionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return 0, err
	}

	return int64(len(events)), nil
}

func (r *EventRepository) ListByStatus(ctx context.Context, executionID string, status models.EventStatus) ([]*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.ExecutionEvent, 0)

	for _, e := range events {
		if e.Status == status {
			filtered = append(filtered, e)
		}
	}

	return filtered, nil
}

func (r *EventRepository) ListByNode(ctx context.Context, executionID string, nodeID string) ([]*models.ExecutionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.load(executionID)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.ExecutionEvent, 0)

	for _, e := range events {
		if e.NodeID == nodeID {
			filtered = append(filtered, e)
		}
	}

	return filtered, nil
}

func (r *EventRepository) SealEvent(ctx context.Context, eventID string, seal persistence.EventSeal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(eventID, "Seal", func(e *models.ExecutionEvent) error {
		if e.Status != models.EventStatusPending && e.Status != models.EventStatusInProgress {
			return persistence.ErrEventSealed
		}

		e.Status = seal.Status
		e.DurationMs = seal.DurationMs
		e.OutputSnapshot = seal.OutputSnapshot
		e.ErrorSnapshot = seal.ErrorSnapshot

		return nil
	})
}

func (r *EventRepository) MarkCompensated(ctx context.Context, eventID string, compensationEventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(eventID, "MarkCompensated", func(e *models.ExecutionEvent) error {
		if e.Compensated {
			return persistence.ErrEventAlreadyCompensated
		}

		e.Compensated = true
		e.CompensationEventID = compensationEventID

		return nil
	})
}

func (r *EventRepository) StaleExecutions(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	executionIDs, err := r.executionIDs()
	if err != nil {
		return nil, err
	}

	stale := make([]string, 0)

	for _, executionID := range executionIDs {
		events, err := r.load(executionID)
		if err != nil {
			return nil, err
		}

		if len(events) == 0 {
			continue
		}

		last := events[len(events)-1]
		if last.Status == models.EventStatusPending && last.Timestamp.Before(cutoff) {
			stale = append(stale, executionID)
		}
	}

	return stale, nil
}

func (r *EventRepository) executionIDs() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}

func (r *EventRepository) findByIdempotencyKey(key string) (*models.ExecutionEvent, error) {
	return r.findBy(func(e *models.ExecutionEvent) bool { return e.IdempotencyKey == key })
}

func (r *EventRepository) findBy(match func(*models.ExecutionEvent) bool) (*models.ExecutionEvent, error) {
	executionIDs, err := r.executionIDs()
	if err != nil {
		return nil, err
	}

	for _, executionID := range executionIDs {
		events, err := r.load(executionID)
		if err != nil {
			return nil, err
		}

		for _, e := range events {
			if match(e) {
				return e, nil
			}
		}
	}

	return nil, nil
}

func (r *EventRepository) update(eventID, op string, apply func(*models.ExecutionEvent) error) error {
	executionIDs, err := r.executionIDs()
	if err != nil {
		return err
	}

	for _, executionID := range executionIDs {
		events, err := r.load(executionID)
		if err != nil {
			return err
		}

		for _, e := range events {
			if e.ID != eventID {
				continue
			}

			err = apply(e)
			if err != nil {
				return persistence.NewEventError(op, executionID, e.SequenceNumber, err)
			}

			return r.save(executionID, events)
		}
	}

	return persistence.NewEventError(op, "", 0, persistence.ErrEventNotFound)
}
