package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"archie-core-connections-layer/internal/config"
	"archie-core-connections-layer/internal/infrastructure/repository"
	"archie-core-connections-layer/internal/infrastructure/repository/memory"
	"archie-core-connections-layer/internal/infrastructure/repository/postgres"
	"archie-core-connections-layer/internal/ports"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// store bundles the repositories of the configured backend
type store struct {
	connections     ports.ConnectionRepository
	providerConfigs ports.ProviderConfigRepository
	environments    ports.EnvironmentRepository
	activities      ports.ActivityRepository
	close           func() error
}

func (s *store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		return openMongo(ctx, cfg, logger)
	case config.StorePostgres:
		return openPostgres(ctx, cfg, logger)
	case config.StoreMemory:
		logger.Warn().Msg("Using in-memory store, data is lost on restart")
		return &store{
			connections:     memory.NewConnectionRepository(),
			providerConfigs: memory.NewProviderConfigRepository(),
			environments:    memory.NewEnvironmentRepository(),
			activities:      memory.NewActivityRepository(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func openMongo(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	if err := repository.EnsureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info().Str("database", cfg.MongoDatabase).Msg("Connected to MongoDB")

	return &store{
		connections:     repository.NewMongoConnectionRepository(db),
		providerConfigs: repository.NewMongoProviderConfigRepository(db),
		environments:    repository.NewMongoEnvironmentRepository(db),
		activities:      repository.NewMongoActivityRepository(db),
		close: func() error {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(disconnectCtx)
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info().Msg("Connected to PostgreSQL")
	return postgresStore(db), nil
}

func postgresStore(db *sql.DB) *store {
	return &store{
		connections:     postgres.NewConnectionRepository(db),
		providerConfigs: postgres.NewProviderConfigRepository(db),
		environments:    postgres.NewEnvironmentRepository(db),
		activities:      postgres.NewActivityRepository(db),
		close:           db.Close,
	}
}
