package repository

import (
	"context"
	"fmt"
	"time"

	"archie-core-connections-layer/internal/domain"
	"archie-core-connections-layer/internal/infrastructure/repository/entity"
	"archie-core-connections-layer/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConnectionRepository implements ConnectionRepository using MongoDB
type MongoConnectionRepository struct {
	collection *mongo.Collection
	counters   *counters
}

var _ ports.ConnectionRepository = (*MongoConnectionRepository)(nil)

// NewMongoConnectionRepository creates a new MongoDB connection repository
func NewMongoConnectionRepository(db *mongo.Database) *MongoConnectionRepository {
	return &MongoConnectionRepository{
		collection: db.Collection(connectionsCollection),
		counters:   newCounters(db),
	}
}

func refFilter(ref domain.ConnectionRef) bson.M {
	return bson.M{
		"connectionId":      ref.ConnectionID,
		"providerConfigKey": ref.ProviderConfigKey,
		"environmentId":     ref.EnvironmentID,
	}
}

// Upsert inserts or replaces a connection
func (r *MongoConnectionRepository) Upsert(ctx context.Context, conn *domain.StoredConnection) (int64, bool, error) {
	ref := domain.ConnectionRef{ConnectionID: conn.ConnectionID, ProviderConfigKey: conn.ProviderConfigKey, EnvironmentID: conn.EnvironmentID}

	existing, err := r.Get(ctx, ref)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		if err := r.replace(ctx, conn); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	id, err := r.counters.next(ctx, connectionsCollection)
	if err != nil {
		return 0, false, err
	}

	now := time.Now().UTC()
	doc := entity.MongoConnectionDocFromDomain(conn)
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		// Lost a race with a concurrent insert of the same triple
		if err := r.replace(ctx, conn); err != nil {
			return 0, false, err
		}
		winner, err := r.Get(ctx, ref)
		if err != nil {
			return 0, false, err
		}
		if winner == nil {
			return 0, false, fmt.Errorf("connection %s vanished during upsert", conn.ConnectionID)
		}
		return winner.ID, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert connection: %w", err)
	}
	return id, true, nil
}

// Insert creates a connection, relying on the unique triple index to
// reject duplicates
func (r *MongoConnectionRepository) Insert(ctx context.Context, conn *domain.StoredConnection) (int64, error) {
	id, err := r.counters.next(ctx, connectionsCollection)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	doc := entity.MongoConnectionDocFromDomain(conn)
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return 0, domain.ErrConnectionAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert connection: %w", err)
	}
	return id, nil
}

// Get retrieves a connection by its triple
func (r *MongoConnectionRepository) Get(ctx context.Context, ref domain.ConnectionRef) (*domain.StoredConnection, error) {
	var doc entity.MongoConnectionDoc
	err := r.collection.FindOne(ctx, refFilter(ref)).Decode(&doc)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return doc.ToDomain(), nil
}

// Update rewrites the mutable fields of an existing connection
func (r *MongoConnectionRepository) Update(ctx context.Context, conn *domain.StoredConnection) error {
	return r.replace(ctx, conn)
}

func (r *MongoConnectionRepository) replace(ctx context.Context, conn *domain.StoredConnection) error {
	ref := domain.ConnectionRef{ConnectionID: conn.ConnectionID, ProviderConfigKey: conn.ProviderConfigKey, EnvironmentID: conn.EnvironmentID}
	update := bson.M{"$set": bson.M{
		"credentials":      conn.Credentials,
		"credentialsIv":    conn.CredentialsIV,
		"credentialsTag":   conn.CredentialsTag,
		"connectionConfig": conn.ConnectionConfig,
		"metadata":         conn.Metadata,
		"updatedAt":        time.Now().UTC(),
	}}

	result, err := r.collection.UpdateOne(ctx, refFilter(ref), update)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.NewError(domain.KindUnknownConnection, "connection not found").
			WithField("connectionId", conn.ConnectionID).
			WithField("providerConfigKey", conn.ProviderConfigKey)
	}
	return nil
}

// Delete removes a connection by its triple
func (r *MongoConnectionRepository) Delete(ctx context.Context, ref domain.ConnectionRef) error {
	result, err := r.collection.DeleteOne(ctx, refFilter(ref))
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.NewError(domain.KindUnknownConnection, "connection not found").
			WithField("connectionId", ref.ConnectionID).
			WithField("providerConfigKey", ref.ProviderConfigKey)
	}
	return nil
}

// List retrieves the environment's connections ordered by id
func (r *MongoConnectionRepository) List(ctx context.Context, environmentID int64, connectionID string) ([]*domain.StoredConnection, error) {
	filter := bson.M{"environmentId": environmentID}
	if connectionID != "" {
		filter["connectionId"] = connectionID
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer cursor.Close(ctx)

	var conns []*domain.StoredConnection
	for cursor.Next(ctx) {
		var doc entity.MongoConnectionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode connection: %w", err)
		}
		conns = append(conns, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return conns, nil
}
