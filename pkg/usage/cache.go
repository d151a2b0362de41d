package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
)

// Cache stores usage counts by key.
type Cache interface {
	Get(ctx context.Context, key string) (value int64, found bool, err error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache is a Cache on a go-redis client.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := c.client.Get(ctx, c.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// CachedCounter serves counts from a Cache and falls back to the wrapped
// counter on a miss. Any code that creates or deletes counted entities must
// invalidate that owner and metric, directly or through EnqueueInvalidate.
type CachedCounter struct {
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedCounter(cache Cache, ttl time.Duration, log *slog.Logger) *CachedCounter {
	return &CachedCounter{cache: cache, ttl: ttl, logger: logger.OrDiscard(log)}
}

func cacheKey(o owner.Ref, metric plan.Metric) string {
	return fmt.Sprintf("%s:%s:%s", o.Kind, o.ID, metric)
}

// Wrap returns a CounterFunc for metric backed by the cache. Cache errors
// are logged and the underlying counter is used.
func (c *CachedCounter) Wrap(metric plan.Metric, fn CounterFunc) CounterFunc {
	return func(ctx context.Context, o owner.Ref) (int64, error) {
		key := cacheKey(o, metric)
		v, found, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.WarnContext(ctx, "usage cache read failed",
				logger.Metric(string(metric)), logger.Error(err))
		}
		if found {
			return v, nil
		}

		n, err := fn(ctx, o)
		if err != nil {
			return 0, err
		}
		if err := c.cache.Set(ctx, key, n, c.ttl); err != nil {
			c.logger.WarnContext(ctx, "usage cache write failed",
				logger.Metric(string(metric)), logger.Error(err))
		}
		return n, nil
	}
}

// Invalidate drops the cached counts of o for the given metrics.
func (c *CachedCounter) Invalidate(ctx context.Context, o owner.Ref, metrics ...plan.Metric) error {
	keys := make([]string, len(metrics))
	for i, m := range metrics {
		keys[i] = cacheKey(o, m)
	}
	return c.cache.Delete(ctx, keys...)
}
