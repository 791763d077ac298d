package ports

import (
	"context"
	"time"

	"archie-core-connections-layer/internal/domain"
)

// SyncTrigger is notified when connections appear or disappear so dependent
// scheduled sync work can be started or cancelled
type SyncTrigger interface {
	OnConnectionCreated(ctx context.Context, conn *domain.Connection) error
	OnConnectionDeleted(ctx context.Context, conn *domain.Connection) error
}

// ActivityLogger records audit entries for credential operations
type ActivityLogger interface {
	Log(ctx context.Context, entry domain.ActivityEntry) error
}

// AnalyticsSink receives fire-and-forget analytics events
type AnalyticsSink interface {
	Track(ctx context.Context, event domain.AnalyticsEvent) error
}

// EventPublisher broadcasts connection lifecycle events in-process
type EventPublisher interface {
	Publish(event *domain.ConnectionEvent)
}

// RefreshLock is a cross-process mutual exclusion primitive for refreshes.
// The coordinator only uses it when one is configured; without it dedup is
// process-local.
type RefreshLock interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// Metrics receives credential and proxy measurements
type Metrics interface {
	ObserveRefresh(provider, outcome string, d time.Duration)
	RefreshJoined(provider string)
	ObserveProxy(provider, method string, status int, d time.Duration)
}
