package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(queueSize int) (*Bus, *atomic.Int32) {
	var waits atomic.Int32
	b := New(Options{
		Retry:     DefaultRetryPolicy(),
		QueueSize: queueSize,
		Workers:   2,
		Clock:     testclock.NewDilatedWallClock(time.Millisecond),
		Jitter: func() time.Duration {
			waits.Add(1)
			return time.Second
		},
	})
	return b, &waits
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"invoice.paid":      "invoice_paid",
		"INVOICE_PAID":      "invoice_paid",
		" Invoice-Paid ":    "invoice_paid",
		"task approved":     "task_approved",
		"milestone.paid.v2": "milestone_paid_v2",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestOnSharesBucketAcrossSpellings(t *testing.T) {
	b, _ := newTestBus(8)
	noop := func(context.Context, any) (any, error) { return nil, nil }
	b.On("invoice.paid", noop)
	b.On("invoice_paid", noop)

	assert.Equal(t, 2, b.HandlerCount("Invoice.Paid"))
}

func TestEmitRetriesAndIsolatesHandlers(t *testing.T) {
	b, waits := newTestBus(8)

	var flaky atomic.Int32
	b.On("invoice.paid", func(context.Context, any) (any, error) {
		if flaky.Add(1) < 3 {
			return nil, errors.New("store unavailable")
		}
		return "flaky-ok", nil
	})
	b.On("invoice.paid", func(context.Context, any) (any, error) {
		return nil, errors.New("always down")
	})
	b.On("invoice.paid", func(context.Context, any) (any, error) {
		panic("boom")
	})
	b.On("invoice.paid", func(_ context.Context, payload any) (any, error) {
		return payload, nil
	})

	outcomes := b.Emit(context.Background(), "INVOICE_PAID", "payload")
	require.Len(t, outcomes, 4)

	assert.Equal(t, "flaky-ok", outcomes[0].Value)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, 3, outcomes[0].Attempts)

	assert.Nil(t, outcomes[1].Value)
	assert.EqualError(t, outcomes[1].Err, "always down")
	assert.Equal(t, 3, outcomes[1].Attempts)

	assert.Nil(t, outcomes[2].Value)
	assert.Error(t, outcomes[2].Err)
	assert.Equal(t, 1, outcomes[2].Attempts)

	assert.Equal(t, "payload", outcomes[3].Value)
	assert.Equal(t, 1, outcomes[3].Attempts)

	// two waits for the flaky handler and two for the failing one
	assert.Equal(t, int32(4), waits.Load())
}

func TestEmitWithoutHandlers(t *testing.T) {
	b, _ := newTestBus(8)
	assert.Empty(t, b.Emit(context.Background(), "project.completed", nil))
}

func TestRandomJitterStaysInRange(t *testing.T) {
	b := New(Options{Retry: DefaultRetryPolicy()})
	for i := 0; i < 200; i++ {
		d := b.randomJitter()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestPublishDeliversAsynchronously(t *testing.T) {
	b, _ := newTestBus(8)

	var (
		mu   sync.Mutex
		seen []any
	)
	done := make(chan struct{}, 2)
	b.On("task.approved", func(_ context.Context, payload any) (any, error) {
		mu.Lock()
		seen = append(seen, payload)
		mu.Unlock()
		done <- struct{}{}
		return nil, nil
	})

	b.Start()
	require.NoError(t, b.Publish(context.Background(), "task.approved", 1))
	require.NoError(t, b.Publish(context.Background(), "task_approved", 2))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not invoked")
		}
	}
	require.NoError(t, b.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []any{1, 2}, seen)
	assert.ErrorIs(t, b.Publish(context.Background(), "task.approved", 3), ErrBusStopped)
}

func TestPublishSurvivesCallerCancellation(t *testing.T) {
	b, _ := newTestBus(8)
	got := make(chan error, 1)
	b.On("invoice.paid", func(ctx context.Context, _ any) (any, error) {
		got <- ctx.Err()
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Publish(ctx, "invoice.paid", nil))
	cancel()
	b.Start()

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
	require.NoError(t, b.Stop(context.Background()))
}

func TestPublishQueueFull(t *testing.T) {
	b, _ := newTestBus(1)

	require.NoError(t, b.Publish(context.Background(), "invoice.paid", 1))
	assert.ErrorIs(t, b.Publish(context.Background(), "invoice.paid", 2), ErrQueueFull)
	require.NoError(t, b.Stop(context.Background()))
}
