package ports

import (
	"context"

	"archie-core-connections-layer/internal/domain"
)

// ConnectionRepository defines the interface for connection persistence.
// It only ever sees encrypted StoredConnection values.
type ConnectionRepository interface {
	// Upsert inserts or replaces the row keyed by (connection id, provider config key, environment)
	// and returns its ID and whether the row was newly created
	Upsert(ctx context.Context, conn *domain.StoredConnection) (id int64, created bool, err error)

	// Insert creates the row only if the triple is free. It fails with
	// domain.ErrConnectionAlreadyExists otherwise.
	Insert(ctx context.Context, conn *domain.StoredConnection) (int64, error)

	// Get returns the stored connection, or nil if no row matches
	Get(ctx context.Context, ref domain.ConnectionRef) (*domain.StoredConnection, error)

	// Update rewrites all mutable columns of the row keyed by the connection's triple
	Update(ctx context.Context, conn *domain.StoredConnection) error

	// Delete removes the row keyed by ref
	Delete(ctx context.Context, ref domain.ConnectionRef) error

	// List returns the environment's connections, optionally filtered by connection id
	List(ctx context.Context, environmentID int64, connectionID string) ([]*domain.StoredConnection, error)
}

// ProviderConfigRepository defines the interface for provider configuration persistence
type ProviderConfigRepository interface {
	GetByKey(ctx context.Context, uniqueKey string, environmentID int64) (*domain.StoredProviderConfig, error)
	Upsert(ctx context.Context, config *domain.StoredProviderConfig) (int64, error)
	List(ctx context.Context, environmentID int64) ([]*domain.StoredProviderConfig, error)
	Delete(ctx context.Context, uniqueKey string, environmentID int64) error
}

// EnvironmentRepository defines the interface for environment persistence
type EnvironmentRepository interface {
	// Create creates a new environment and sets its ID
	Create(ctx context.Context, env *domain.Environment) error

	// GetByID retrieves an environment by ID, or nil
	GetByID(ctx context.Context, id int64) (*domain.Environment, error)

	// GetBySecretKey retrieves an environment by its secret key, or nil
	GetBySecretKey(ctx context.Context, secretKey string) (*domain.Environment, error)

	// GetByName retrieves an environment by name, or nil
	GetByName(ctx context.Context, name string) (*domain.Environment, error)
}

// ActivityRepository persists activity log entries
type ActivityRepository interface {
	Insert(ctx context.Context, entry *domain.ActivityEntry) error
	ListByLog(ctx context.Context, activityLogID string) ([]*domain.ActivityEntry, error)
}
