package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/ports"
)

// EnvironmentRepository implements ports.EnvironmentRepository in memory
type EnvironmentRepository struct {
	mu     sync.RWMutex
	rows   map[int64]*domain.Environment
	nextID int64
}

var _ ports.EnvironmentRepository = (*EnvironmentRepository)(nil)

// NewEnvironmentRepository creates an empty in-memory environment repository
func NewEnvironmentRepository() *EnvironmentRepository {
	return &EnvironmentRepository{rows: make(map[int64]*domain.Environment)}
}

// Create stores a new environment and assigns its ID unless one is set
func (r *EnvironmentRepository) Create(_ context.Context, env *domain.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rows {
		if existing.Name == env.Name || existing.SecretKey == env.SecretKey {
			return fmt.Errorf("environment %s already exists", env.Name)
		}
	}

	if env.ID == 0 {
		r.nextID++
		env.ID = r.nextID
	} else if env.ID > r.nextID {
		r.nextID = env.ID
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	env.UpdatedAt = env.CreatedAt

	c := *env
	r.rows[env.ID] = &c
	return nil
}

// GetByID returns the environment, or nil
func (r *EnvironmentRepository) GetByID(_ context.Context, id int64) (*domain.Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if env, ok := r.rows[id]; ok {
		c := *env
		return &c, nil
	}
	return nil, nil
}

// GetBySecretKey returns the environment owning secretKey, or nil
func (r *EnvironmentRepository) GetBySecretKey(_ context.Context, secretKey string) (*domain.Environment, error) {
	return r.find(func(env *domain.Environment) bool { return env.SecretKey == secretKey }), nil
}

// GetByName returns the environment called name, or nil
func (r *EnvironmentRepository) GetByName(_ context.Context, name string) (*domain.Environment, error) {
	return r.find(func(env *domain.Environment) bool { return env.Name == name }), nil
}

func (r *EnvironmentRepository) find(match func(*domain.Environment) bool) *domain.Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, env := range r.rows {
		if match(env) {
			c := *env
			return &c
		}
	}
	return nil
}
