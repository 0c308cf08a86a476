package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/gigledger/internal/clock"
	docdomain "github.com/smallbiznis/gigledger/internal/docstore/domain"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const DefaultTTL = 24 * time.Hour

// Cache remembers recent emission attempts by fingerprint.
type Cache interface {
	// Seen reports whether the fingerprint was marked within the window.
	Seen(ctx context.Context, fingerprint string, within time.Duration) (bool, error)
	Mark(ctx context.Context, fingerprint string) error
	// Prune drops expired records and returns how many were removed.
	Prune(ctx context.Context) (int, error)
}

type record struct {
	Fingerprint string    `json:"key"`
	Timestamp   time.Time `json:"timestamp"`
}

// MemoryCache is a process-local map with TTL expiry.
type MemoryCache struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock clock.Clock
}

func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryCache{seen: make(map[string]time.Time), ttl: ttl, clock: clk}
}

func (c *MemoryCache) Seen(_ context.Context, fingerprint string, within time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.seen[fingerprint]
	if !ok {
		return false, nil
	}
	now := c.clock.Now()
	if now.Sub(at) > c.ttl {
		delete(c.seen, fingerprint)
		return false, nil
	}
	return now.Sub(at) <= within, nil
}

func (c *MemoryCache) Mark(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	c.seen[fingerprint] = c.clock.Now()
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Prune(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for k, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, k)
			n++
		}
	}
	return n, nil
}

// DocumentCache keeps one document per fingerprint under dedup/.
type DocumentCache struct {
	docs  docdomain.Store
	ttl   time.Duration
	clock clock.Clock
}

func NewDocumentCache(docs docdomain.Store, ttl time.Duration, clk clock.Clock) *DocumentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &DocumentCache{docs: docs, ttl: ttl, clock: clk}
}

func (c *DocumentCache) Seen(ctx context.Context, fingerprint string, within time.Duration) (bool, error) {
	rec, err := docdomain.Get[record](ctx, c.docs, docdomain.DedupKey(fingerprint))
	if err != nil || rec == nil {
		return false, err
	}
	age := c.clock.Now().Sub(rec.Timestamp)
	return age <= c.ttl && age <= within, nil
}

func (c *DocumentCache) Mark(ctx context.Context, fingerprint string) error {
	return docdomain.Put(ctx, c.docs, docdomain.DedupKey(fingerprint), record{
		Fingerprint: fingerprint,
		Timestamp:   c.clock.Now(),
	})
}

func (c *DocumentCache) Prune(ctx context.Context) (int, error) {
	recs, corrupt, err := docdomain.ListAs[record](ctx, c.docs, docdomain.PrefixDedup)
	if err != nil {
		return 0, err
	}
	now := c.clock.Now()
	n := 0
	for _, rec := range recs {
		if now.Sub(rec.Timestamp) <= c.ttl {
			continue
		}
		if err := c.docs.Delete(ctx, docdomain.DedupKey(rec.Fingerprint)); err != nil {
			return n, err
		}
		n++
	}
	for _, key := range corrupt {
		if err := c.docs.Delete(ctx, key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// FallbackCache degrades to an in-memory map when the primary cache errors.
type FallbackCache struct {
	primary  Cache
	fallback *MemoryCache
	log      *zap.Logger
	metrics  *metrics.DomainMetrics
}

func NewFallbackCache(primary Cache, fallback *MemoryCache, log *zap.Logger, m *metrics.DomainMetrics) *FallbackCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackCache{primary: primary, fallback: fallback, log: log.Named("dedup.cache"), metrics: m}
}

func (c *FallbackCache) Seen(ctx context.Context, fingerprint string, within time.Duration) (bool, error) {
	seen, err := c.primary.Seen(ctx, fingerprint, within)
	if err != nil {
		c.metrics.IncDedupCache("error")
		c.log.Warn("dedup.cache.fallback", zap.String("op", "seen"), zap.Error(err))
		seen, _ = c.fallback.Seen(ctx, fingerprint, within)
	}
	if seen {
		c.metrics.IncDedupCache("hit")
	} else {
		c.metrics.IncDedupCache("miss")
	}
	return seen, nil
}

func (c *FallbackCache) Mark(ctx context.Context, fingerprint string) error {
	_ = c.fallback.Mark(ctx, fingerprint)
	if err := c.primary.Mark(ctx, fingerprint); err != nil {
		c.metrics.IncDedupCache("error")
		c.log.Warn("dedup.cache.fallback", zap.String("op", "mark"), zap.Error(err))
	}
	return nil
}

func (c *FallbackCache) Prune(ctx context.Context) (int, error) {
	n, _ := c.fallback.Prune(ctx)
	m, err := c.primary.Prune(ctx)
	return n + m, err
}
