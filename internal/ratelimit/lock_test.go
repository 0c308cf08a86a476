package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gigledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedis(t)
	locker := NewLocker(client)

	lease, err := locker.Acquire(ctx, "job:autopay_retry", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	second, err := locker.Acquire(ctx, "job:autopay_retry", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	// a lease that has expired and been re-taken cannot free the new holder
	srv.FastForward(2 * time.Minute)
	next, err := locker.Acquire(ctx, "job:autopay_retry", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.NoError(t, locker.Release(ctx, lease))
	assert.True(t, srv.Exists("job:autopay_retry"))

	require.NoError(t, locker.Release(ctx, next))
	assert.False(t, srv.Exists("job:autopay_retry"))

	_, err = locker.Acquire(ctx, "", time.Minute)
	assert.Error(t, err)
	var nilLocker *Locker
	_, err = nilLocker.Acquire(ctx, "job:x", time.Minute)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedis(t)
	locker := NewLocker(client)

	calls := 0
	ran, err := locker.WithLock(ctx, "job:x", time.Minute, func(context.Context) error {
		calls++
		// nested attempt while held is refused
		nested, err := locker.WithLock(ctx, "job:x", time.Minute, func(context.Context) error {
			calls++
			return nil
		})
		assert.False(t, nested)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, calls)
	assert.False(t, srv.Exists("job:x"))

	var nilLocker *Locker
	ran, err = nilLocker.WithLock(ctx, "job:x", time.Minute, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, calls)
}

func TestPublishLimiter(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)

	cfg := config.Config{RateLimit: config.RateLimitConfig{PublishRate: 0.001, PublishBurst: 2}}
	limiter := NewPublishLimiter(cfg, client)
	require.True(t, limiter.Enabled())

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	disabled := NewPublishLimiter(cfg, nil)
	assert.False(t, disabled.Enabled())
	res, err = disabled.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestBucketTake(t *testing.T) {
	ctx := context.Background()
	srv, client := newRedis(t)
	bucket := NewBucket(client)
	limit := Limit{Rate: 1, Burst: 3}

	for want := 2; want >= 0; want-- {
		d, err := bucket.Take(ctx, PublishKey("ops-1"), limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.Zero(t, d.RetryAfter)
	}
	d, err := bucket.Take(ctx, PublishKey("ops-1"), limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)
	assert.LessOrEqual(t, d.RetryAfter, time.Second)
	assert.Positive(t, srv.TTL(PublishKey("ops-1")))

	_, err = bucket.Take(ctx, PublishKey("ops-1"), Limit{Rate: 0, Burst: 3})
	assert.ErrorIs(t, err, ErrInvalidLimit)
	var nilBucket *Bucket
	_, err = nilBucket.Take(ctx, PublishKey("ops-1"), limit)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPublishKey(t *testing.T) {
	assert.Equal(t, "gigledger:publish:ops-1", PublishKey(" OPS-1 "))
	assert.Equal(t, "gigledger:publish:anonymous", PublishKey(""))
}
