// Package coverage maps postcodes onto the mobile coverage zones providers serve.
package coverage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Resolver interface {
	Resolve(ctx context.Context, outwardCode string) (string, bool, error)
}

// ZoneLookup is the authoritative outward code -> zone table.
type ZoneLookup interface {
	CoverageZone(ctx context.Context, outwardCode string) (string, bool, error)
}

type TableResolver struct {
	lookup ZoneLookup
}

func NewTableResolver(lookup ZoneLookup) *TableResolver {
	return &TableResolver{lookup: lookup}
}

func (r *TableResolver) Resolve(ctx context.Context, outwardCode string) (string, bool, error) {
	code := strings.ToUpper(strings.TrimSpace(outwardCode))
	if code == "" {
		return "", false, nil
	}
	return r.lookup.CoverageZone(ctx, code)
}

// RedisCache is the subset of go-redis used by CachedResolver.
type RedisCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

const noZone = "-"

// CachedResolver fronts another resolver with redis. Misses are cached too. Redis failures
// degrade to the wrapped resolver.
type CachedResolver struct {
	next   Resolver
	rdb    RedisCache
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewCachedResolver(next Resolver, rdb RedisCache, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl, prefix: "coverage", logger: logger}
}

func (r *CachedResolver) Resolve(ctx context.Context, outwardCode string) (string, bool, error) {
	code := strings.ToUpper(strings.TrimSpace(outwardCode))
	if code == "" {
		return "", false, nil
	}
	key := r.prefix + ":" + code

	cached, err := r.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == noZone {
			return "", false, nil
		}
		return cached, true, nil
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("coverage cache read failed", "err", err, "outward_code", code)
	}

	zone, ok, err := r.next.Resolve(ctx, code)
	if err != nil {
		return "", false, err
	}
	value := zone
	if !ok {
		value = noZone
	}
	if err := r.rdb.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.logger.Warn("coverage cache write failed", "err", err, "outward_code", code)
	}
	return zone, ok, nil
}
