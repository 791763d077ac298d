package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultTTL          = 45 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	keyPrefix           = "connections:lock:"
)

// ErrLockNotHeld is returned by unlock when the key expired or was taken over
var ErrLockNotHeld = errors.New("refresh lock no longer held")

// Only the token that set the key may delete it
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisRefreshLock serialises refreshes of one connection across replicas
type RedisRefreshLock struct {
	client       redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewRedisRefreshLock creates a lock backed by SET NX with a TTL. The TTL
// must outlive the refresh timeout so a slow leader keeps the lock.
func NewRedisRefreshLock(client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *RedisRefreshLock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRefreshLock{
		client:       client,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// Lock blocks until the key is acquired or ctx is done
func (l *RedisRefreshLock) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			l.logger.Debug().Str("lockKey", key).Msg("Refresh lock acquired")
			return func(ctx context.Context) error {
				return l.release(ctx, redisKey, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisRefreshLock) release(ctx context.Context, redisKey, token string) error {
	deleted, err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}
