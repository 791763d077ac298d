package domain

import "time"

// ConnectionEventType names a connection lifecycle change
type ConnectionEventType string

const (
	ConnectionCreated       ConnectionEventType = "connection.created"
	ConnectionUpdated       ConnectionEventType = "connection.updated"
	ConnectionDeleted       ConnectionEventType = "connection.deleted"
	ConnectionRefreshed     ConnectionEventType = "connection.refreshed"
	ConnectionRefreshFailed ConnectionEventType = "connection.refresh_failed"
)

// ConnectionEvent is broadcast in-process to subscribers of one environment
type ConnectionEvent struct {
	Type              ConnectionEventType `json:"type"`
	EnvironmentID     int64               `json:"environment_id"`
	ConnectionID      string              `json:"connection_id"`
	ProviderConfigKey string              `json:"provider_config_key"`
	OccurredAt        time.Time           `json:"occurred_at"`
}
