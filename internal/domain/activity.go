package domain

import "time"

// ActivityLevel is the severity of an activity entry
type ActivityLevel string

const (
	ActivityLevelInfo  ActivityLevel = "info"
	ActivityLevelWarn  ActivityLevel = "warn"
	ActivityLevelError ActivityLevel = "error"
)

// AuditContext ties credential operations to an activity log owned by the caller.
// A nil *AuditContext means no audit entries are written.
type AuditContext struct {
	ActivityLogID string
}

// ActivityEntry is one line of an activity log
type ActivityEntry struct {
	ID            string        `json:"id"`
	ActivityLogID string        `json:"activity_log_id"`
	Level         ActivityLevel `json:"level"`
	Content       string        `json:"content"`
	Timestamp     time.Time     `json:"timestamp"`
}

// AnalyticsEvent is a fire-and-forget product analytics event
type AnalyticsEvent struct {
	Name          string
	EnvironmentID int64
	Properties    map[string]any
}

const (
	AnalyticsConnectionUpserted = "server:connection_upserted"
	AnalyticsConnectionFetched  = "server:connection_fetched"
	AnalyticsConnectionDeleted  = "server:connection_deleted"
)
