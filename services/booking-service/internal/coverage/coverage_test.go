package coverage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutwardCode(t *testing.T) {
	tests := map[string]string{
		"SW1A 1AA":  "SW1A",
		"sw1a1aa":   "SW1A",
		" e1  6an ": "E1",
		"M1 1AE":    "M1",
		"1AA":       "",
		"":          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, OutwardCode(in), "input %q", in)
	}
}

type zones struct {
	table map[string]string
	calls int
	err   error
}

func (z *zones) CoverageZone(_ context.Context, code string) (string, bool, error) {
	z.calls++
	if z.err != nil {
		return "", false, z.err
	}
	zone, ok := z.table[code]
	return zone, ok, nil
}

func (z *zones) Resolve(ctx context.Context, code string) (string, bool, error) {
	return z.CoverageZone(ctx, code)
}

func TestTableResolver(t *testing.T) {
	r := NewTableResolver(&zones{table: map[string]string{"E1": "east"}})
	zone, ok, err := r.Resolve(context.Background(), " e1 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "east", zone)

	_, ok, err = r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

// mapCache stands in for redis; failing makes every call return an error.
type mapCache struct {
	data    map[string]string
	failing bool
}

func (c *mapCache) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch v, ok := c.data[key]; {
	case c.failing:
		cmd.SetErr(errors.New("redis down"))
	case ok:
		cmd.SetVal(v)
	default:
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	if c.failing {
		cmd.SetErr(errors.New("redis down"))
		return cmd
	}
	c.data[key] = value.(string)
	cmd.SetVal("OK")
	return cmd
}

func TestCachedResolver_CachesHitsAndMisses(t *testing.T) {
	backing := &zones{table: map[string]string{"E1": "east"}}
	cache := &mapCache{data: map[string]string{}}
	r := NewCachedResolver(backing, cache, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		zone, ok, err := r.Resolve(ctx, "E1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "east", zone)

		_, ok, err = r.Resolve(ctx, "ZZ9")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 2, backing.calls)
	assert.Equal(t, "-", cache.data["coverage:ZZ9"])
}

func TestCachedResolver_RedisDownFallsThrough(t *testing.T) {
	backing := &zones{table: map[string]string{"E1": "east"}}
	r := NewCachedResolver(backing, &mapCache{failing: true}, time.Minute, nil)

	zone, ok, err := r.Resolve(context.Background(), "E1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "east", zone)
}

func TestCachedResolver_BackingError(t *testing.T) {
	backing := &zones{err: errors.New("db down")}
	r := NewCachedResolver(backing, &mapCache{data: map[string]string{}}, time.Minute, nil)
	_, _, err := r.Resolve(context.Background(), "E1")
	require.Error(t, err)
}
