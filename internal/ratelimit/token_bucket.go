package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrNotConfigured = errors.New("ratelimit: redis client not configured")
	ErrInvalidLimit  = errors.New("ratelimit: rate and burst must be positive")
)

// takeScript refills the bucket from Redis time, takes one token when
// available, and returns {allowed, tokens left, retry-after ms}.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or burst
local at = tonumber(state[2]) or now
if now > at then
  tokens = math.min(burst, tokens + (now - at) / 1000 * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "at", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens), wait}
`

// Limit is a refill rate in tokens per second and a bucket size.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// idle is how long an untouched bucket lives: twice the time to refill it.
func (l Limit) idle() time.Duration {
	seconds := math.Ceil(float64(l.Burst) / l.Rate * 2)
	return time.Duration(math.Max(seconds, 1)) * time.Second
}

// Decision is the outcome of taking one token.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Bucket is a token bucket kept in a Redis hash so every replica shares it.
type Bucket struct {
	client redis.UniversalClient
	script *redis.Script
}

func NewBucket(client redis.UniversalClient) *Bucket {
	if client == nil {
		return nil
	}
	return &Bucket{client: client, script: redis.NewScript(takeScript)}
}

// Take spends one token from the bucket stored under key.
func (b *Bucket) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrNotConfigured
	}
	if key == "" {
		return Decision{}, errors.New("ratelimit: empty bucket key")
	}
	if !limit.valid() {
		return Decision{}, ErrInvalidLimit
	}

	out, err := b.script.Run(ctx, b.client, []string{key}, limit.Rate, limit.Burst, limit.idle().Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take token %s: %w", key, err)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("take token %s: unexpected reply %v", key, out)
	}
	return Decision{
		Allowed:    out[0] == 1,
		Remaining:  int(out[1]),
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}
