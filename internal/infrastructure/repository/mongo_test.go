package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"archie-core-connections-layer/internal/infrastructure/repository/repotest"
	"archie-core-connections-layer/internal/ports"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("connections_test")
	require.NoError(t, EnsureIndexes(ctx, db))
	return db
}

func TestMongoRepositories(t *testing.T) {
	db := testDatabase(t)
	repotest.Run(t, repotest.Backend{
		Connections:     func(*testing.T) ports.ConnectionRepository { return NewMongoConnectionRepository(db) },
		ProviderConfigs: func(*testing.T) ports.ProviderConfigRepository { return NewMongoProviderConfigRepository(db) },
		Environments:    func(*testing.T) ports.EnvironmentRepository { return NewMongoEnvironmentRepository(db) },
		Activities:      func(*testing.T) ports.ActivityRepository { return NewMongoActivityRepository(db) },
	})
}
