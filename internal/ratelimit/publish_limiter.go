package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gigledger/internal/config"
)

const publishKeyPrefix = "gigledger:publish:"

// PublishKey is the bucket key for one ops API client.
func PublishKey(client string) string {
	client = strings.ToLower(strings.TrimSpace(client))
	if client == "" {
		client = "anonymous"
	}
	return publishKeyPrefix + client
}

// PublishLimiter throttles domain-event publishing through the ops API per client.
type PublishLimiter struct {
	bucket *Bucket
	limit  Limit
}

// NewPublishLimiter returns nil when Redis or the limit is not configured.
func NewPublishLimiter(cfg config.Config, client redis.UniversalClient) *PublishLimiter {
	limit := Limit{Rate: cfg.RateLimit.PublishRate, Burst: cfg.RateLimit.PublishBurst}
	if client == nil || !limit.valid() {
		return nil
	}
	return &PublishLimiter{bucket: NewBucket(client), limit: limit}
}

func (l *PublishLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one publish token for client. A disabled limiter allows everything.
func (l *PublishLimiter) Allow(ctx context.Context, client string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, PublishKey(client), l.limit)
}
