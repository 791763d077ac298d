package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

type providerConfigKey struct {
	uniqueKey     string
	environmentID int64
}

// ProviderConfigRepository implements ports.ProviderConfigRepository in memory
type ProviderConfigRepository struct {
	mu     sync.RWMutex
	rows   map[providerConfigKey]*domain.StoredProviderConfig
	nextID int64
}

var _ ports.ProviderConfigRepository = (*ProviderConfigRepository)(nil)

// NewProviderConfigRepository creates an empty in-memory provider config repository
func NewProviderConfigRepository() *ProviderConfigRepository {
	return &ProviderConfigRepository{rows: make(map[providerConfigKey]*domain.StoredProviderConfig)}
}

// GetByKey returns the config, or nil
func (r *ProviderConfigRepository) GetByKey(_ context.Context, uniqueKey string, environmentID int64) (*domain.StoredProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[providerConfigKey{uniqueKey, environmentID}]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

// Upsert inserts or replaces a config
func (r *ProviderConfigRepository) Upsert(_ context.Context, config *domain.StoredProviderConfig) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerConfigKey{config.UniqueKey, config.EnvironmentID}
	row := *config
	row.UpdatedAt = time.Now().UTC()
	if existing, ok := r.rows[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		r.nextID++
		row.ID = r.nextID
		row.CreatedAt = row.UpdatedAt
	}
	r.rows[key] = &row
	return row.ID, nil
}

// List returns the environment's configs ordered by key
func (r *ProviderConfigRepository) List(_ context.Context, environmentID int64) ([]*domain.StoredProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.StoredProviderConfig
	for key, row := range r.rows {
		if key.environmentID == environmentID {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueKey < out[j].UniqueKey })
	return out, nil
}

// Delete removes a config
func (r *ProviderConfigRepository) Delete(_ context.Context, uniqueKey string, environmentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerConfigKey{uniqueKey, environmentID}
	if _, ok := r.rows[key]; !ok {
		return domain.NewError(domain.KindUnknownProviderConfig, "provider config not found").
			WithField("providerConfigKey", uniqueKey)
	}
	delete(r.rows, key)
	return nil
}
