package eventbus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/observability/metrics"
	"github.com/smallbiznis/gigledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

var (
	ErrQueueFull  = errors.New("event_queue_full")
	ErrBusStopped = errors.New("event_bus_stopped")
)

// Handler reacts to one published event. A returned error is retried per the
// bus RetryPolicy; the returned value is reported back through Emit.
type Handler func(ctx context.Context, payload any) (any, error)

// Publisher is the side of the bus domain actions depend on.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Outcome is the settled result of one handler. Value is nil when the handler
// exhausted its retries.
type Outcome struct {
	Handler  int
	Value    any
	Err      error
	Attempts int
}

type RetryPolicy struct {
	MaxAttempts int
	MinJitter   time.Duration
	MaxJitter   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinJitter: 500 * time.Millisecond, MaxJitter: 1500 * time.Millisecond}
}

type Options struct {
	Retry     RetryPolicy
	QueueSize int
	Workers   int
	Clock     clock.Clock
	// Jitter overrides the randomized wait between attempts.
	Jitter  func() time.Duration
	Log     *zap.Logger
	Metrics *metrics.DomainMetrics
}

type envelope struct {
	ctx     context.Context
	name    string
	payload any
}

// Bus is an in-process publish/subscribe registry keyed by normalized event name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	policy  RetryPolicy
	clock   clock.Clock
	jitter  func() time.Duration
	log     *zap.Logger
	metrics *metrics.DomainMetrics

	queueMu sync.RWMutex
	queue   chan envelope
	stopped bool
	workers int
	startMu sync.Mutex
	started bool
	wg      sync.WaitGroup
}

func New(opts Options) *Bus {
	policy := opts.Retry
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.MinJitter <= 0 {
		policy.MinJitter = time.Millisecond
	}
	if policy.MaxJitter < policy.MinJitter {
		policy.MaxJitter = policy.MinJitter
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	b := &Bus{
		handlers: make(map[string][]Handler),
		policy:   policy,
		clock:    clk,
		jitter:   opts.Jitter,
		log:      log.Named("eventbus"),
		metrics:  opts.Metrics,
		queue:    make(chan envelope, queueSize),
		workers:  workers,
	}
	if b.jitter == nil {
		b.jitter = b.randomJitter
	}
	return b
}

// NormalizeName case-folds and maps '.', '-' and spaces to '_', so
// "invoice.paid" and "INVOICE_PAID" share one registration bucket.
func NormalizeName(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(strings.ToLower(strings.TrimSpace(name)))
}

func (b *Bus) On(name string, h Handler) {
	if h == nil {
		return
	}
	key := NormalizeName(name)
	b.mu.Lock()
	b.handlers[key] = append(b.handlers[key], h)
	b.mu.Unlock()
}

func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[NormalizeName(name)])
}

// Emit runs every handler registered for name concurrently and waits for all
// of them to settle. Handler failures never surface as an error to the caller.
func (b *Bus) Emit(ctx context.Context, name string, payload any) []Outcome {
	key := NormalizeName(name)
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[key]...)
	b.mu.RUnlock()

	outcomes := make([]Outcome, len(hs))
	if len(hs) == 0 {
		return outcomes
	}

	var wg sync.WaitGroup
	for i, h := range hs {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			outcomes[i] = b.invoke(ctx, key, i, h, payload)
		}(i, h)
	}
	wg.Wait()
	return outcomes
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.value) }

func (b *Bus) invoke(ctx context.Context, name string, index int, h Handler, payload any) Outcome {
	log := logger.WithContext(ctx, b.log).With(zap.String("event", name), zap.Int("handler", index))

	var (
		value    any
		lastErr  error
		attempts int
	)
	callErr := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			v, err := safeCall(ctx, h, payload)
			if err != nil {
				lastErr = err
				return err
			}
			value = v
			return nil
		},
		IsFatalError: func(err error) bool {
			var pe *panicError
			return errors.As(err, &pe)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt < b.policy.MaxAttempts {
				log.Warn("eventbus.handler.retry", zap.Int("attempt", attempt), zap.Error(err))
			}
		},
		Attempts:    b.policy.MaxAttempts,
		Delay:       b.policy.MinJitter,
		BackoffFunc: func(time.Duration, int) time.Duration { return b.jitter() },
		Clock:       b.clock,
		Stop:        ctx.Done(),
	})

	if callErr == nil {
		b.metrics.IncBusHandler(name, "ok")
		return Outcome{Handler: index, Value: value, Attempts: attempts}
	}

	if lastErr == nil {
		lastErr = callErr
	}
	var pe *panicError
	if errors.As(lastErr, &pe) {
		b.metrics.IncBusHandler(name, "panic")
		log.Error("eventbus.handler.panic", zap.Any("panic", pe.value), zap.Int("attempts", attempts))
	} else {
		b.metrics.IncBusHandler(name, "failed")
		log.Error("eventbus.handler.failed", zap.Int("attempts", attempts), zap.Error(lastErr))
	}
	return Outcome{Handler: index, Err: lastErr, Attempts: attempts}
}

func safeCall(ctx context.Context, h Handler, payload any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Debug("eventbus.handler.stack", zap.ByteString("stack", debug.Stack()))
			v, err = nil, &panicError{value: r}
		}
	}()
	return h(ctx, payload)
}

func (b *Bus) randomJitter() time.Duration {
	span := b.policy.MaxJitter - b.policy.MinJitter
	if span <= 0 {
		return b.policy.MinJitter
	}
	return b.policy.MinJitter + time.Duration(rand.Int63n(int64(span)+1))
}

// Publish enqueues an event for asynchronous delivery and returns immediately.
// The producer's state change is never coupled to handler success.
func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}

	env := envelope{ctx: correlation.Detach(ctx), name: name, payload: payload}
	select {
	case b.queue <- env:
		b.metrics.SetBusQueueDepth(len(b.queue))
		return nil
	default:
		logger.WithContext(ctx, b.log).Error("eventbus.queue_full", zap.String("event", NormalizeName(name)))
		return ErrQueueFull
	}
}

// Start launches the dispatcher workers. It is safe to call more than once.
func (b *Bus) Start() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return
	}
	b.started = true
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.consume()
	}
	b.log.Info("eventbus.started", zap.Int("workers", b.workers), zap.Int("queue_size", cap(b.queue)))
}

func (b *Bus) consume() {
	defer b.wg.Done()
	for env := range b.queue {
		b.metrics.SetBusQueueDepth(len(b.queue))
		b.Emit(env.ctx, env.name, env.payload)
	}
}

// Stop rejects further publishes, drains queued events and waits for the
// workers until ctx expires.
func (b *Bus) Stop(ctx context.Context) error {
	b.queueMu.Lock()
	if !b.stopped {
		b.stopped = true
		close(b.queue)
	}
	b.queueMu.Unlock()

	b.startMu.Lock()
	started := b.started
	b.startMu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.log.Info("eventbus.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
