package entity

import (
	"time"

	"archie-core-connections-layer/internal/domain"
)

// MongoEnvironmentDoc represents an environment in MongoDB
type MongoEnvironmentDoc struct {
	ID        int64     `bson:"_id"`
	Name      string    `bson:"name"`
	SecretKey string    `bson:"secretKey"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *MongoEnvironmentDoc) ToDomain() *domain.Environment {
	return &domain.Environment{
		ID:        d.ID,
		Name:      d.Name,
		SecretKey: d.SecretKey,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoActivityDoc represents one activity log entry in MongoDB
type MongoActivityDoc struct {
	ID            string    `bson:"_id"`
	ActivityLogID string    `bson:"activityLogId"`
	Level         string    `bson:"level"`
	Content       string    `bson:"content"`
	Timestamp     time.Time `bson:"timestamp"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *MongoActivityDoc) ToDomain() *domain.ActivityEntry {
	return &domain.ActivityEntry{
		ID:            d.ID,
		ActivityLogID: d.ActivityLogID,
		Level:         domain.ActivityLevel(d.Level),
		Content:       d.Content,
		Timestamp:     d.Timestamp,
	}
}

// MongoActivityDocFromDomain converts a domain entity to a MongoDB document
func MongoActivityDocFromDomain(entry *domain.ActivityEntry) *MongoActivityDoc {
	return &MongoActivityDoc{
		ID:            entry.ID,
		ActivityLogID: entry.ActivityLogID,
		Level:         string(entry.Level),
		Content:       entry.Content,
		Timestamp:     entry.Timestamp,
	}
}
