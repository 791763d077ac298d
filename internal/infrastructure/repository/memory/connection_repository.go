// Package memory provides process-local repositories for tests and for
// running the broker without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

// ConnectionRepository implements ports.ConnectionRepository in memory
type ConnectionRepository struct {
	mu     sync.RWMutex
	rows   map[domain.ConnectionRef]*domain.StoredConnection
	nextID int64
}

var _ ports.ConnectionRepository = (*ConnectionRepository)(nil)

// NewConnectionRepository creates an empty in-memory connection repository
func NewConnectionRepository() *ConnectionRepository {
	return &ConnectionRepository{rows: make(map[domain.ConnectionRef]*domain.StoredConnection)}
}

// Upsert inserts or replaces a connection row
func (r *ConnectionRepository) Upsert(_ context.Context, conn *domain.StoredConnection) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := refOf(conn)
	now := time.Now().UTC()
	row := cloneConnection(conn)
	row.UpdatedAt = now

	if existing, ok := r.rows[ref]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		r.rows[ref] = row
		return row.ID, false, nil
	}

	r.nextID++
	row.ID = r.nextID
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	r.rows[ref] = row
	return row.ID, true, nil
}

// Insert adds a connection row unless the triple is taken
func (r *ConnectionRepository) Insert(_ context.Context, conn *domain.StoredConnection) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := refOf(conn)
	if _, ok := r.rows[ref]; ok {
		return 0, domain.ErrConnectionAlreadyExists
	}

	now := time.Now().UTC()
	row := cloneConnection(conn)
	r.nextID++
	row.ID = r.nextID
	row.CreatedAt = now
	row.UpdatedAt = now
	r.rows[ref] = row
	return row.ID, nil
}

// Get returns the row for ref, or nil
func (r *ConnectionRepository) Get(_ context.Context, ref domain.ConnectionRef) (*domain.StoredConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[ref]
	if !ok {
		return nil, nil
	}
	return cloneConnection(row), nil
}

// Update rewrites the mutable columns of an existing row
func (r *ConnectionRepository) Update(_ context.Context, conn *domain.StoredConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := refOf(conn)
	existing, ok := r.rows[ref]
	if !ok {
		return domain.NewError(domain.KindUnknownConnection, "connection not found").
			WithField("connectionId", conn.ConnectionID).
			WithField("providerConfigKey", conn.ProviderConfigKey)
	}

	row := cloneConnection(conn)
	row.ID = existing.ID
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = time.Now().UTC()
	r.rows[ref] = row
	return nil
}

// Delete removes the row for ref
func (r *ConnectionRepository) Delete(_ context.Context, ref domain.ConnectionRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[ref]; !ok {
		return domain.NewError(domain.KindUnknownConnection, "connection not found").
			WithField("connectionId", ref.ConnectionID).
			WithField("providerConfigKey", ref.ProviderConfigKey)
	}
	delete(r.rows, ref)
	return nil
}

// List returns the environment's rows ordered by ID
func (r *ConnectionRepository) List(_ context.Context, environmentID int64, connectionID string) ([]*domain.StoredConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.StoredConnection
	for ref, row := range r.rows {
		if ref.EnvironmentID != environmentID {
			continue
		}
		if connectionID != "" && ref.ConnectionID != connectionID {
			continue
		}
		out = append(out, cloneConnection(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored rows
func (r *ConnectionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func refOf(conn *domain.StoredConnection) domain.ConnectionRef {
	return domain.ConnectionRef{
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		EnvironmentID:     conn.EnvironmentID,
	}
}

func cloneConnection(conn *domain.StoredConnection) *domain.StoredConnection {
	c := *conn
	c.ConnectionConfig = cloneStrings(conn.ConnectionConfig)
	c.Metadata = cloneStrings(conn.Metadata)
	return &c
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
