package pubsub

import (
	"context"
	"slices"
	"sync"

	"archie-core-connections-layer/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const subscriberBuffer = 16

// ConnectionEventChannel represents a subscription channel
type ConnectionEventChannel struct {
	ID     string
	Filter *ConnectionEventFilter
	Events chan *domain.ConnectionEvent
	Done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// ConnectionEventFilter filters connection events. EnvironmentID is required;
// subscribers never see another environment's events.
type ConnectionEventFilter struct {
	EnvironmentID     int64
	Types             []domain.ConnectionEventType
	ProviderConfigKey string
}

// ConnectionPubSub manages connection event subscriptions
type ConnectionPubSub struct {
	mu       sync.RWMutex
	channels map[string]*ConnectionEventChannel
	logger   zerolog.Logger
}

// NewConnectionPubSub creates a new connection event pub/sub
func NewConnectionPubSub(logger zerolog.Logger) *ConnectionPubSub {
	return &ConnectionPubSub{
		channels: make(map[string]*ConnectionEventChannel),
		logger:   logger,
	}
}

// Subscribe creates a new subscription channel that lives until ctx is done
func (ps *ConnectionPubSub) Subscribe(ctx context.Context, filter *ConnectionEventFilter) *ConnectionEventChannel {
	subCtx, cancel := context.WithCancel(ctx)

	channel := &ConnectionEventChannel{
		ID:     uuid.NewString(),
		Filter: filter,
		Events: make(chan *domain.ConnectionEvent, subscriberBuffer),
		Done:   make(chan struct{}),
		ctx:    subCtx,
		cancel: cancel,
	}

	ps.mu.Lock()
	ps.channels[channel.ID] = channel
	ps.mu.Unlock()

	ps.logger.Info().
		Str("channelId", channel.ID).
		Int64("environmentId", filter.EnvironmentID).
		Msg("Connection event subscription created")

	go func() {
		<-subCtx.Done()
		ps.Unsubscribe(channel.ID)
	}()

	return channel
}

// Unsubscribe removes a subscription channel
func (ps *ConnectionPubSub) Unsubscribe(channelID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	channel, exists := ps.channels[channelID]
	if !exists {
		return
	}

	close(channel.Events)
	close(channel.Done)
	channel.cancel()
	delete(ps.channels, channelID)

	ps.logger.Info().
		Str("channelId", channelID).
		Msg("Connection event subscription removed")
}

// Publish broadcasts an event to all matching subscribers without blocking;
// a subscriber with a full buffer misses the event
func (ps *ConnectionPubSub) Publish(event *domain.ConnectionEvent) {
	if event == nil {
		return
	}

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	delivered := 0
	for _, channel := range ps.channels {
		if !matchesFilter(event, channel.Filter) {
			continue
		}
		select {
		case channel.Events <- event:
			delivered++
		case <-channel.ctx.Done():
		default:
			ps.logger.Warn().
				Str("channelId", channel.ID).
				Str("eventType", string(event.Type)).
				Msg("Channel buffer full, dropping event")
		}
	}

	if delivered > 0 {
		ps.logger.Debug().
			Str("eventType", string(event.Type)).
			Str("connectionId", event.ConnectionID).
			Int("subscribers", delivered).
			Msg("Published connection event to subscribers")
	}
}

func matchesFilter(event *domain.ConnectionEvent, filter *ConnectionEventFilter) bool {
	if filter == nil || event.EnvironmentID != filter.EnvironmentID {
		return false
	}
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, event.Type) {
		return false
	}
	if filter.ProviderConfigKey != "" && event.ProviderConfigKey != filter.ProviderConfigKey {
		return false
	}
	return true
}

// SubscriberCount returns the number of active subscriptions
func (ps *ConnectionPubSub) SubscriberCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.channels)
}
