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

// MongoProviderConfigRepository implements ProviderConfigRepository using MongoDB
type MongoProviderConfigRepository struct {
	collection *mongo.Collection
	counters   *counters
}

var _ ports.ProviderConfigRepository = (*MongoProviderConfigRepository)(nil)

// NewMongoProviderConfigRepository creates a new MongoDB provider config repository
func NewMongoProviderConfigRepository(db *mongo.Database) *MongoProviderConfigRepository {
	return &MongoProviderConfigRepository{
		collection: db.Collection(providerConfigsCollection),
		counters:   newCounters(db),
	}
}

// GetByKey retrieves a provider config by its unique key
func (r *MongoProviderConfigRepository) GetByKey(ctx context.Context, uniqueKey string, environmentID int64) (*domain.StoredProviderConfig, error) {
	var doc entity.MongoProviderConfigDoc
	err := r.collection.FindOne(ctx, bson.M{"uniqueKey": uniqueKey, "environmentId": environmentID}).Decode(&doc)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}
	return doc.ToDomain(), nil
}

// Upsert saves or updates a provider config
func (r *MongoProviderConfigRepository) Upsert(ctx context.Context, config *domain.StoredProviderConfig) (int64, error) {
	existing, err := r.GetByKey(ctx, config.UniqueKey, config.EnvironmentID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	doc := entity.MongoProviderConfigDocFromDomain(config)
	doc.UpdatedAt = now
	if existing != nil {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
	} else {
		if doc.ID, err = r.counters.next(ctx, providerConfigsCollection); err != nil {
			return 0, err
		}
		doc.CreatedAt = now
	}

	filter := bson.M{"uniqueKey": config.UniqueKey, "environmentId": config.EnvironmentID}
	_, err = r.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return 0, fmt.Errorf("failed to save provider config: %w", err)
	}
	return doc.ID, nil
}

// List retrieves the environment's provider configs ordered by key
func (r *MongoProviderConfigRepository) List(ctx context.Context, environmentID int64) ([]*domain.StoredProviderConfig, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"environmentId": environmentID},
		options.Find().SetSort(bson.D{{Key: "uniqueKey", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list provider configs: %w", err)
	}
	defer cursor.Close(ctx)

	var configs []*domain.StoredProviderConfig
	for cursor.Next(ctx) {
		var doc entity.MongoProviderConfigDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode provider config: %w", err)
		}
		configs = append(configs, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return configs, nil
}

// Delete removes a provider config
func (r *MongoProviderConfigRepository) Delete(ctx context.Context, uniqueKey string, environmentID int64) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"uniqueKey": uniqueKey, "environmentId": environmentID})
	if err != nil {
		return fmt.Errorf("failed to delete provider config: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.NewError(domain.KindUnknownProviderConfig, "provider config not found").
			WithField("providerConfigKey", uniqueKey)
	}
	return nil
}
