package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the lease token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease is a held lock. It expires on its own after the TTL it was taken with.
type Lease struct {
	Key   string
	token string
}

// Locker hands out single-instance Redis leases used to keep scheduler jobs
// from overlapping across replicas.
type Locker struct {
	client  redis.UniversalClient
	release *redis.Script
}

func NewLocker(client redis.UniversalClient) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(releaseScript)}
}

// Acquire returns a nil lease without error when someone else holds key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("ratelimit: lock needs a key and a positive ttl")
	}
	lease := &Lease{Key: key, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

// Release gives the lease back. Releasing an expired or stolen lease is a no-op.
func (l *Locker) Release(ctx context.Context, lease *Lease) error {
	if l == nil || l.client == nil || lease == nil {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{lease.Key}, lease.token).Err()
}

// WithLock runs fn while holding key. ran is false when another holder owns
// the lock. A nil Locker runs fn unguarded.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if l == nil {
		return true, fn(ctx)
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if lease == nil {
		return false, nil
	}
	defer func() {
		// release even when ctx is already cancelled
		_ = l.Release(context.WithoutCancel(ctx), lease)
	}()
	return true, fn(ctx)
}
