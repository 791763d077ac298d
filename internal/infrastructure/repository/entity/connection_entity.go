package entity

import (
	"time"

	"archie-core-connections-layer/internal/domain"
)

// MongoConnectionDoc represents a connection in MongoDB. Credentials holds
// ciphertext whenever CredentialsIV is set.
type MongoConnectionDoc struct {
	ID                int64             `bson:"_id"`
	ConnectionID      string            `bson:"connectionId"`
	ProviderConfigKey string            `bson:"providerConfigKey"`
	EnvironmentID     int64             `bson:"environmentId"`
	Credentials       string            `bson:"credentials"`
	CredentialsIV     string            `bson:"credentialsIv,omitempty"`
	CredentialsTag    string            `bson:"credentialsTag,omitempty"`
	ConnectionConfig  map[string]string `bson:"connectionConfig,omitempty"`
	Metadata          map[string]string `bson:"metadata,omitempty"`
	CreatedAt         time.Time         `bson:"createdAt"`
	UpdatedAt         time.Time         `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a stored connection
func (d *MongoConnectionDoc) ToDomain() *domain.StoredConnection {
	return &domain.StoredConnection{
		ID:                d.ID,
		ConnectionID:      d.ConnectionID,
		ProviderConfigKey: d.ProviderConfigKey,
		EnvironmentID:     d.EnvironmentID,
		Credentials:       d.Credentials,
		CredentialsIV:     d.CredentialsIV,
		CredentialsTag:    d.CredentialsTag,
		ConnectionConfig:  d.ConnectionConfig,
		Metadata:          d.Metadata,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// MongoConnectionDocFromDomain converts a stored connection to a MongoDB document
func MongoConnectionDocFromDomain(conn *domain.StoredConnection) *MongoConnectionDoc {
	return &MongoConnectionDoc{
		ID:                conn.ID,
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		EnvironmentID:     conn.EnvironmentID,
		Credentials:       conn.Credentials,
		CredentialsIV:     conn.CredentialsIV,
		CredentialsTag:    conn.CredentialsTag,
		ConnectionConfig:  conn.ConnectionConfig,
		Metadata:          conn.Metadata,
		CreatedAt:         conn.CreatedAt,
		UpdatedAt:         conn.UpdatedAt,
	}
}

// MongoProviderConfigDoc represents a provider config in MongoDB
type MongoProviderConfigDoc struct {
	ID              int64     `bson:"_id"`
	UniqueKey       string    `bson:"uniqueKey"`
	EnvironmentID   int64     `bson:"environmentId"`
	Provider        string    `bson:"provider"`
	ClientID        string    `bson:"clientId"`
	ClientSecret    string    `bson:"clientSecret"`
	ClientSecretIV  string    `bson:"clientSecretIv,omitempty"`
	ClientSecretTag string    `bson:"clientSecretTag,omitempty"`
	Scopes          []string  `bson:"scopes,omitempty"`
	CreatedAt       time.Time `bson:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a stored provider config
func (d *MongoProviderConfigDoc) ToDomain() *domain.StoredProviderConfig {
	return &domain.StoredProviderConfig{
		ID:              d.ID,
		UniqueKey:       d.UniqueKey,
		EnvironmentID:   d.EnvironmentID,
		Provider:        d.Provider,
		ClientID:        d.ClientID,
		ClientSecret:    d.ClientSecret,
		ClientSecretIV:  d.ClientSecretIV,
		ClientSecretTag: d.ClientSecretTag,
		Scopes:          d.Scopes,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// MongoProviderConfigDocFromDomain converts a stored provider config to a MongoDB document
func MongoProviderConfigDocFromDomain(config *domain.StoredProviderConfig) *MongoProviderConfigDoc {
	return &MongoProviderConfigDoc{
		ID:              config.ID,
		UniqueKey:       config.UniqueKey,
		EnvironmentID:   config.EnvironmentID,
		Provider:        config.Provider,
		ClientID:        config.ClientID,
		ClientSecret:    config.ClientSecret,
		ClientSecretIV:  config.ClientSecretIV,
		ClientSecretTag: config.ClientSecretTag,
		Scopes:          config.Scopes,
		CreatedAt:       config.CreatedAt,
		UpdatedAt:       config.UpdatedAt,
	}
}
