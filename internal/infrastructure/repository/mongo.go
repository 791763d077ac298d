package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	connectionsCollection     = "connections"
	providerConfigsCollection = "provider_configs"
	environmentsCollection    = "environments"
	activitiesCollection      = "activities"
	countersCollection        = "counters"
)

// EnsureIndexes creates the unique indexes the repositories rely on
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		connectionsCollection: {{
			Keys:    bson.D{{Key: "providerConfigKey", Value: 1}, {Key: "connectionId", Value: 1}, {Key: "environmentId", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, {
			Keys: bson.D{{Key: "environmentId", Value: 1}, {Key: "_id", Value: 1}},
		}},
		providerConfigsCollection: {{
			Keys:    bson.D{{Key: "uniqueKey", Value: 1}, {Key: "environmentId", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		environmentsCollection: {{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		}, {
			Keys:    bson.D{{Key: "secretKey", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		activitiesCollection: {{
			Keys: bson.D{{Key: "activityLogId", Value: 1}, {Key: "timestamp", Value: 1}},
		}},
	}

	for name, models := range specs {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// counters hands out monotonically increasing int64 ids per collection
type counters struct {
	collection *mongo.Collection
}

func newCounters(db *mongo.Database) *counters {
	return &counters{collection: db.Collection(countersCollection)}
}

func (c *counters) next(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := c.collection.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return doc.Seq, nil
}

func notFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
