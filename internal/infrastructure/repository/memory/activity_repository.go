package memory

import (
	"context"
	"sync"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

// ActivityRepository implements ports.ActivityRepository in memory
type ActivityRepository struct {
	mu      sync.RWMutex
	entries []*domain.ActivityEntry
}

var _ ports.ActivityRepository = (*ActivityRepository)(nil)

// NewActivityRepository creates an empty in-memory activity repository
func NewActivityRepository() *ActivityRepository {
	return &ActivityRepository{}
}

// Insert appends an entry
func (r *ActivityRepository) Insert(_ context.Context, entry *domain.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *entry
	r.entries = append(r.entries, &c)
	return nil
}

// ListByLog returns the entries of one activity log in insertion order
func (r *ActivityRepository) ListByLog(_ context.Context, activityLogID string) ([]*domain.ActivityEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ActivityEntry
	for _, e := range r.entries {
		if e.ActivityLogID == activityLogID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}
