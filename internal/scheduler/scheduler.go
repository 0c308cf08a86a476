package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gigledger/internal/clock"
	"github.com/smallbiznis/gigledger/internal/invoice/autopay"
	"github.com/smallbiznis/gigledger/internal/notification/dedup"
	obsmetrics "github.com/smallbiznis/gigledger/internal/observability/metrics"
	"github.com/smallbiznis/gigledger/internal/ratelimit"
	"github.com/smallbiznis/gigledger/internal/reconciliation"
	"github.com/smallbiznis/gigledger/internal/scheduler/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobAutopayRetry   = "autopay_retry"
	JobReconciliation = "notification_reconciliation"
	JobDedupPrune     = "dedup_cache_prune"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_scheduler_job")
)

// AutopaySweeper retries on_hold auto-milestone invoices.
type AutopaySweeper interface {
	Sweep(ctx context.Context) (autopay.Summary, error)
}

// Reconciler backfills missing notifications.
type Reconciler interface {
	Run(ctx context.Context, opts reconciliation.Options) (reconciliation.Report, error)
}

// Pruner drops expired dedup fingerprints.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Autopay    *autopay.Service
	Reconciler *reconciliation.Job
	Cache      dedup.Cache
	Locker     *ratelimit.Locker `optional:"true"`
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	autopay    AutopaySweeper
	reconciler Reconciler
	pruner     Pruner
	locker     *ratelimit.Locker

	mu      sync.Mutex
	lastRun map[string]time.Time
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Autopay == nil || p.Reconciler == nil || p.Cache == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return newScheduler(p.Log, p.Config, p.GenID, p.Clock, p.Autopay, p.Reconciler, p.Cache, p.Locker), nil
}

func newScheduler(log *zap.Logger, cfg Config, genID *snowflake.Node, clk clock.Clock, sweeper AutopaySweeper, reconciler Reconciler, pruner Pruner, locker *ratelimit.Locker) *Scheduler {
	return &Scheduler{
		log:        log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg.withDefaults(),
		genID:      genID,
		clock:      clk,
		autopay:    sweeper,
		reconciler: reconciler,
		pruner:     pruner,
		locker:     locker,
		lastRun:    make(map[string]time.Time),
	}
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobAutopayRetry, s.cfg.AutopayInterval, s.AutopayRetryJob},
		{JobReconciliation, s.cfg.ReconciliationInterval, s.ReconciliationJob},
		{JobDedupPrune, s.cfg.DedupPruneInterval, s.DedupPruneJob},
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := s.withJobLock(ctx, name, func(ctx context.Context) error {
		return s.safeRun(ctx, name, fn)
	})
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if errors.Is(err, obsmetrics.ErrLockHeld) {
		schedMetrics.IncJobError(name, err)
		log.Info("scheduler.job.skipped", zap.String("reason", obsmetrics.SchedulerJobReasonLockHeld))
		if owner {
			s.logJobFinish(ctx, run)
		}
		return nil
	}
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline expiry is a soft timeout
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job whose interval has elapsed.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	now := s.clock.Now()
	for _, j := range s.jobs() {
		if guard.EnsureJobEnabled(j.name, s.cfg.EnabledJobs) != nil {
			continue
		}
		if guard.EnsureJobDue(s.last(j.name), j.interval, now) != nil {
			continue
		}
		s.markRun(j.name, now)
		err = errors.Join(err, s.runJob(parent, j.name, s.cfg.JobTimeout, j.run))
	}
	return err
}

// RunJob runs one job immediately, ignoring its interval.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs() {
		if j.name != name {
			continue
		}
		s.markRun(j.name, s.clock.Now())
		return s.runJob(ctx, j.name, s.cfg.JobTimeout, j.run)
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) last(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name]
}

func (s *Scheduler) markRun(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = at
}
