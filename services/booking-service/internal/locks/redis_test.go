package locks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedis_LockExcludesSecondHolder(t *testing.T) {
	rdb := redisClient(t)
	l := NewRedis(rdb, RedisConfig{Prefix: "test-" + uuid.NewString(), Wait: 50 * time.Millisecond})

	unlock, err := l.Lock(context.Background(), "provider:p-1")
	require.NoError(t, err)

	_, err = l.Lock(context.Background(), "provider:p-1")
	require.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := l.Lock(context.Background(), "provider:p-1")
	require.NoError(t, err)
	unlock2()
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	rdb := redisClient(t)
	prefix := "test-" + uuid.NewString()
	l := NewRedis(rdb, RedisConfig{Prefix: prefix, TTL: 50 * time.Millisecond})

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	// Lock expired; a second holder takes it and the stale release must not free it.
	unlock2, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()

	exists, err := rdb.Exists(context.Background(), prefix+":k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	unlock2()
}
