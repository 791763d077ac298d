package synctrigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"archie-core-connections-layer/internal/domain"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const (
	// TaskInitialSync is the task type consumed by the sync workers
	TaskInitialSync = "sync:initial"
	DefaultQueue    = "connections"
)

// InitialSyncPayload identifies the connection a sync worker should start on
type InitialSyncPayload struct {
	ConnectionID      string `json:"connection_id"`
	ProviderConfigKey string `json:"provider_config_key"`
	EnvironmentID     int64  `json:"environment_id"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskDeleter interface {
	DeleteTask(queue, id string) error
	Close() error
}

// AsynqTrigger schedules initial syncs for new connections and cancels
// pending ones when a connection is deleted
type AsynqTrigger struct {
	client    enqueuer
	inspector taskDeleter
	queue     string
	delay     time.Duration
	logger    zerolog.Logger
}

// NewAsynqTrigger creates a trigger connected to the given Redis
func NewAsynqTrigger(opt asynq.RedisConnOpt, queue string, delay time.Duration, logger zerolog.Logger) *AsynqTrigger {
	return newAsynqTrigger(asynq.NewClient(opt), asynq.NewInspector(opt), queue, delay, logger)
}

func newAsynqTrigger(client enqueuer, inspector taskDeleter, queue string, delay time.Duration, logger zerolog.Logger) *AsynqTrigger {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AsynqTrigger{
		client:    client,
		inspector: inspector,
		queue:     queue,
		delay:     delay,
		logger:    logger,
	}
}

// TaskID is deterministic per connection so a re-created connection does not
// get a duplicate pending sync and deletion can find the task
func TaskID(ref domain.ConnectionRef) string {
	return fmt.Sprintf("%s:%d:%s:%s", TaskInitialSync, ref.EnvironmentID, ref.ProviderConfigKey, ref.ConnectionID)
}

// OnConnectionCreated enqueues the initial sync task
func (t *AsynqTrigger) OnConnectionCreated(ctx context.Context, conn *domain.Connection) error {
	payload, err := json.Marshal(InitialSyncPayload{
		ConnectionID:      conn.ConnectionID,
		ProviderConfigKey: conn.ProviderConfigKey,
		EnvironmentID:     conn.EnvironmentID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(t.queue),
		asynq.TaskID(TaskID(conn.Ref())),
	}
	if t.delay > 0 {
		opts = append(opts, asynq.ProcessIn(t.delay))
	}

	_, err = t.client.EnqueueContext(ctx, asynq.NewTask(TaskInitialSync, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		t.logger.Debug().Str("connectionId", conn.ConnectionID).Msg("Initial sync already scheduled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue initial sync: %w", err)
	}

	t.logger.Info().
		Str("connectionId", conn.ConnectionID).
		Str("providerConfigKey", conn.ProviderConfigKey).
		Dur("delay", t.delay).
		Msg("Initial sync scheduled")
	return nil
}

// OnConnectionDeleted removes a pending initial sync, if any
func (t *AsynqTrigger) OnConnectionDeleted(ctx context.Context, conn *domain.Connection) error {
	err := t.inspector.DeleteTask(t.queue, TaskID(conn.Ref()))
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("failed to cancel sync for connection %s: %w", conn.ConnectionID, err)
}

// Close releases the Redis connections
func (t *AsynqTrigger) Close() error {
	return multierr.Append(t.client.Close(), t.inspector.Close())
}
