package dedup

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gigledger/internal/clock"
)

// RedisCache stores fingerprints with SET EX so expiry is handled by Redis.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	clock  clock.Clock
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, clk clock.Clock) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "gigledger:dedup:", clock: clk}
}

func (c *RedisCache) Seen(ctx context.Context, fingerprint string, within time.Duration) (bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+fingerprint).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return c.clock.Now().Sub(time.UnixMilli(ms)) <= within, nil
}

func (c *RedisCache) Mark(ctx context.Context, fingerprint string) error {
	return c.client.Set(ctx, c.prefix+fingerprint, strconv.FormatInt(c.clock.Now().UnixMilli(), 10), c.ttl).Err()
}

// Prune is a no-op; keys expire on their own.
func (c *RedisCache) Prune(context.Context) (int, error) {
	return 0, nil
}
