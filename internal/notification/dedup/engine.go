package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/notification/domain"
	"github.com/smallbiznis/gigledger/internal/notification/store"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"go.uber.org/zap"
)

type Decision string

const (
	DecisionCreate  Decision = "create"
	DecisionUpgrade Decision = "upgrade"
	DecisionSkip    Decision = "skip"
	// DecisionRecent is an exact repeat short-circuited by the TTL cache.
	DecisionRecent Decision = "skip_recent"
)

// EventStore is the slice of the notification store the engine writes through.
type EventStore interface {
	FindExisting(ctx context.Context, key string, w store.Window) (*domain.Event, error)
	AddEvent(ctx context.Context, ev domain.Event) error
	ReplaceEvent(ctx context.Context, ev domain.Event) error
}

type Options struct {
	// AllowUpgrade lets a higher-quality candidate overwrite the existing record.
	AllowUpgrade bool
	ScanLimit    int
	LookbackDays int
	RepeatWindow time.Duration
}

type Result struct {
	Decision        Decision
	Key             string
	Event           domain.Event
	Quality         int
	ExistingQuality int
}

type Engine struct {
	events  EventStore
	cache   Cache
	clock   clock.Clock
	genID   *snowflake.Node
	log     *zap.Logger
	metrics *metrics.DomainMetrics

	locks sync.Map
}

func NewEngine(events EventStore, cache Cache, clk clock.Clock, genID *snowflake.Node, log *zap.Logger, m *metrics.DomainMetrics) *Engine {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		events:  events,
		cache:   cache,
		clock:   clk,
		genID:   genID,
		log:     log.Named("notification.dedup"),
		metrics: m,
	}
}

// Apply decides and performs the write for one candidate: create when the key
// is new, upgrade in place when the candidate scores higher, skip otherwise.
// Calls for the same key are serialized within the process.
func (e *Engine) Apply(ctx context.Context, candidate domain.Event, opts Options) (Result, error) {
	key := candidate.DedupKey()
	unlock := e.lock(key)
	defer unlock()

	log := logger.WithContext(ctx, e.log).With(
		zap.String("dedup_key", key),
		zap.String("type", string(candidate.Type)),
		zap.String("audience", string(candidate.Audience)),
	)

	fingerprint := Fingerprint(key, candidate.Metadata)
	if e.cache != nil && opts.RepeatWindow > 0 {
		seen, err := e.cache.Seen(ctx, fingerprint, opts.RepeatWindow)
		if err != nil {
			log.Warn("notification.dedup_cache_error", zap.Error(err))
		}
		if seen {
			log.Info("notification.skip_duplicate", zap.String("reason", "recent_repeat"))
			e.count(candidate, metrics.OutcomeSkipped)
			return Result{Decision: DecisionRecent, Key: key, Event: candidate, Quality: Quality(candidate.Metadata)}, nil
		}
	}

	res, err := e.plan(ctx, key, candidate, opts)
	if err != nil {
		return res, err
	}

	switch res.Decision {
	case DecisionCreate:
		if err := e.events.AddEvent(ctx, res.Event); err != nil {
			return res, fmt.Errorf("create notification: %w", err)
		}
		log.Info("notification.emit", zap.String("event_id", res.Event.ID), zap.Int("quality", res.Quality))
		e.count(candidate, metrics.OutcomeCreated)
	case DecisionUpgrade:
		if err := e.events.ReplaceEvent(ctx, res.Event); err != nil {
			return res, fmt.Errorf("upgrade notification: %w", err)
		}
		log.Info("notification.upgrade_duplicate",
			zap.String("event_id", res.Event.ID),
			zap.Int("quality", res.Quality),
			zap.Int("existing_quality", res.ExistingQuality),
		)
		e.count(candidate, metrics.OutcomeUpgraded)
	default:
		log.Info("notification.skip_duplicate",
			zap.String("event_id", res.Event.ID),
			zap.Int("quality", res.Quality),
			zap.Int("existing_quality", res.ExistingQuality),
		)
		e.count(candidate, metrics.OutcomeSkipped)
	}

	if e.cache != nil {
		if err := e.cache.Mark(ctx, fingerprint); err != nil {
			log.Warn("notification.dedup_cache_error", zap.Error(err))
		}
	}
	return res, nil
}

// Plan computes the decision Apply would take without writing anything.
func (e *Engine) Plan(ctx context.Context, candidate domain.Event, opts Options) (Result, error) {
	return e.plan(ctx, candidate.DedupKey(), candidate, opts)
}

func (e *Engine) plan(ctx context.Context, key string, candidate domain.Event, opts Options) (Result, error) {
	candidate = candidate.Clone()
	quality := Quality(candidate.Metadata)

	window := store.Window{ProjectID: candidate.Context.ProjectID, Limit: opts.ScanLimit}
	if opts.LookbackDays > 0 {
		window.Since = e.clock.Now().AddDate(0, 0, -opts.LookbackDays)
	}
	existing, err := e.events.FindExisting(ctx, key, window)
	if err != nil {
		return Result{Key: key, Event: candidate, Quality: quality}, fmt.Errorf("find existing notification: %w", err)
	}

	if existing == nil {
		if candidate.ID == "" {
			candidate.ID = e.nextID()
		}
		if candidate.Timestamp.IsZero() {
			candidate.Timestamp = e.clock.Now()
		}
		return Result{Decision: DecisionCreate, Key: key, Event: candidate, Quality: quality}, nil
	}

	existingQuality := Quality(existing.Metadata)
	if opts.AllowUpgrade && quality > existingQuality {
		upgraded := candidate
		upgraded.ID = existing.ID
		upgraded.Timestamp = existing.Timestamp
		upgraded.Metadata[domain.MetaEnrichmentNote] = domain.EnrichmentUpgraded
		return Result{Decision: DecisionUpgrade, Key: key, Event: upgraded, Quality: quality, ExistingQuality: existingQuality}, nil
	}
	return Result{Decision: DecisionSkip, Key: key, Event: *existing, Quality: quality, ExistingQuality: existingQuality}, nil
}

func (e *Engine) nextID() string {
	if e.genID == nil {
		return fmt.Sprintf("%d", e.clock.Now().UnixNano())
	}
	return e.genID.Generate().String()
}

func (e *Engine) lock(key string) func() {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) count(ev domain.Event, outcome string) {
	e.metrics.IncNotification(string(ev.Type), string(ev.Audience), outcome)
}
