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

// MongoEnvironmentRepository implements EnvironmentRepository using MongoDB
type MongoEnvironmentRepository struct {
	collection *mongo.Collection
	counters   *counters
}

var _ ports.EnvironmentRepository = (*MongoEnvironmentRepository)(nil)

// NewMongoEnvironmentRepository creates a new MongoDB environment repository
func NewMongoEnvironmentRepository(db *mongo.Database) *MongoEnvironmentRepository {
	return &MongoEnvironmentRepository{
		collection: db.Collection(environmentsCollection),
		counters:   newCounters(db),
	}
}

// Create creates a new environment and assigns its ID unless one is set
func (r *MongoEnvironmentRepository) Create(ctx context.Context, env *domain.Environment) error {
	if env.ID == 0 {
		id, err := r.counters.next(ctx, environmentsCollection)
		if err != nil {
			return err
		}
		env.ID = id
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	env.UpdatedAt = env.CreatedAt

	doc := entity.MongoEnvironmentDoc{
		ID:        env.ID,
		Name:      env.Name,
		SecretKey: env.SecretKey,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}
	return nil
}

// GetByID retrieves an environment by ID
func (r *MongoEnvironmentRepository) GetByID(ctx context.Context, id int64) (*domain.Environment, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetBySecretKey retrieves an environment by secret key
func (r *MongoEnvironmentRepository) GetBySecretKey(ctx context.Context, secretKey string) (*domain.Environment, error) {
	return r.findOne(ctx, bson.M{"secretKey": secretKey})
}

// GetByName retrieves an environment by name
func (r *MongoEnvironmentRepository) GetByName(ctx context.Context, name string) (*domain.Environment, error) {
	return r.findOne(ctx, bson.M{"name": name})
}

func (r *MongoEnvironmentRepository) findOne(ctx context.Context, filter bson.M) (*domain.Environment, error) {
	var doc entity.MongoEnvironmentDoc
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	return doc.ToDomain(), nil
}

// MongoActivityRepository implements ActivityRepository using MongoDB
type MongoActivityRepository struct {
	collection *mongo.Collection
}

var _ ports.ActivityRepository = (*MongoActivityRepository)(nil)

// NewMongoActivityRepository creates a new MongoDB activity repository
func NewMongoActivityRepository(db *mongo.Database) *MongoActivityRepository {
	return &MongoActivityRepository{collection: db.Collection(activitiesCollection)}
}

// Insert logs an activity entry
func (r *MongoActivityRepository) Insert(ctx context.Context, entry *domain.ActivityEntry) error {
	doc := entity.MongoActivityDocFromDomain(entry)
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// ListByLog retrieves the entries of one activity log ordered by time
func (r *MongoActivityRepository) ListByLog(ctx context.Context, activityLogID string) ([]*domain.ActivityEntry, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"activityLogId": activityLogID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.ActivityEntry
	for cursor.Next(ctx) {
		var doc entity.MongoActivityDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode activity: %w", err)
		}
		entries = append(entries, doc.ToDomain())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return entries, nil
}
