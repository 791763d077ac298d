package lock

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisRefreshLockExcludes(t *testing.T) {
	l := NewRedisRefreshLock(testClient(t), 5*time.Second, zerolog.Nop())
	ctx := context.Background()
	key := "refresh:42:slack:" + uuid.NewString()

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	var second atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		unlock2, err := l.Lock(ctx, key)
		if err == nil {
			second.Store(true)
			_ = unlock2(ctx)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	assert.False(t, second.Load())

	require.NoError(t, unlock(ctx))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second locker never acquired the lock")
	}
	assert.True(t, second.Load())
}

func TestRedisRefreshLockHonoursContext(t *testing.T) {
	l := NewRedisRefreshLock(testClient(t), 5*time.Second, zerolog.Nop())
	key := "refresh:42:slack:" + uuid.NewString()

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = unlock(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisRefreshLockExpiredUnlock(t *testing.T) {
	l := NewRedisRefreshLock(testClient(t), 100*time.Millisecond, zerolog.Nop())
	key := "refresh:42:slack:" + uuid.NewString()

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)
	assert.ErrorIs(t, unlock(context.Background()), ErrLockNotHeld)
}
