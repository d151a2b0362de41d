package usage_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/owner"
	"github.com/dmitrymomot/clubbilling/pkg/plan"
	"github.com/dmitrymomot/clubbilling/pkg/usage"
)

func newRedisCache(t *testing.T) (*usage.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return usage.NewRedisCache(client, "usage"), mr
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	cache, mr := newRedisCache(t)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "k", 42, time.Minute))
	v, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), v)
	assert.True(t, mr.Exists("usage:k"))

	mr.FastForward(2 * time.Minute)
	_, found, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired")

	require.NoError(t, cache.Set(ctx, "k", 1, time.Minute))
	require.NoError(t, cache.Delete(ctx, "k"))
	assert.False(t, mr.Exists("usage:k"))
}

func TestCachedCounter(t *testing.T) {
	t.Parallel()

	cache, _ := newRedisCache(t)
	cc := usage.NewCachedCounter(cache, time.Minute, logger.Discard())
	ctx := context.Background()
	ref := owner.Ref{ID: uuid.New(), Kind: owner.KindClub}

	var calls atomic.Int64
	live := int64(3)
	counter := cc.Wrap(plan.MaxPlayers, func(context.Context, owner.Ref) (int64, error) {
		calls.Add(1)
		return live, nil
	})

	n, err := counter(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	live = 4
	n, err = counter(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "served from cache")
	assert.Equal(t, int64(1), calls.Load())

	require.NoError(t, cc.Invalidate(ctx, ref, plan.MaxPlayers))
	n, err = counter(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCachedCounter_FallsBackWhenRedisDown(t *testing.T) {
	t.Parallel()

	cache, mr := newRedisCache(t)
	cc := usage.NewCachedCounter(cache, time.Minute, logger.Discard())
	counter := cc.Wrap(plan.MaxTeams, func(context.Context, owner.Ref) (int64, error) { return 7, nil })

	mr.Close()
	n, err := counter(context.Background(), owner.Ref{ID: uuid.New(), Kind: owner.KindTenant})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
