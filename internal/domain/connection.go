package domain

import "time"

// Connection binds a caller-chosen identifier to a set of provider credentials
// inside one environment. Credentials are held decrypted only in memory.
type Connection struct {
	ID                int64             `json:"id"`
	ConnectionID      string            `json:"connection_id"`
	ProviderConfigKey string            `json:"provider_config_key"`
	EnvironmentID     int64             `json:"environment_id"`
	Credentials       Credentials       `json:"-"`
	ConnectionConfig  map[string]string `json:"connection_config"`
	Metadata          map[string]string `json:"metadata"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Ref returns the lookup triple of the connection
func (c *Connection) Ref() ConnectionRef {
	return ConnectionRef{
		ConnectionID:      c.ConnectionID,
		ProviderConfigKey: c.ProviderConfigKey,
		EnvironmentID:     c.EnvironmentID,
	}
}

// OAuth2 returns the OAuth2 credentials of the connection, if that is its auth mode
func (c *Connection) OAuth2() (*OAuth2Credentials, bool) {
	creds, ok := c.Credentials.(*OAuth2Credentials)
	return creds, ok && creds != nil
}

// ConnectionRef is the unique (connection id, provider config key, environment) triple
type ConnectionRef struct {
	ConnectionID      string
	ProviderConfigKey string
	EnvironmentID     int64
}

// Validate rejects refs with a missing scoping key before any I/O happens
func (r ConnectionRef) Validate() error {
	if r.ConnectionID == "" {
		return NewError(KindMissingConnectionID, "connection id is required")
	}
	if r.ProviderConfigKey == "" {
		return NewError(KindMissingProviderConfig, "provider config key is required")
	}
	if r.EnvironmentID == 0 {
		return NewError(KindMissingEnvironment, "environment id is required")
	}
	return nil
}

// StoredConnection is the persisted representation of a Connection.
// Credentials holds base64 ciphertext when CredentialsIV is set, and the
// plaintext JSON document otherwise.
type StoredConnection struct {
	ID                int64
	ConnectionID      string
	ProviderConfigKey string
	EnvironmentID     int64
	Credentials       string
	CredentialsIV     string
	CredentialsTag    string
	ConnectionConfig  map[string]string
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Encrypted reports whether the credentials column holds ciphertext
func (s *StoredConnection) Encrypted() bool {
	return s.CredentialsIV != ""
}

// ConnectionSummary is the credential-free listing view of a connection
type ConnectionSummary struct {
	ID                int64     `json:"id"`
	ConnectionID      string    `json:"connection_id"`
	ProviderConfigKey string    `json:"provider_config_key"`
	Provider          string    `json:"provider,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
