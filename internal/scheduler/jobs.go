package scheduler

import (
	"context"
	"errors"

	obsmetrics "github.com/smallbiznis/gigledger/internal/observability/metrics"
	"github.com/smallbiznis/gigledger/internal/reconciliation"
	"go.uber.org/zap"
)

// AutopayRetryJob sweeps on_hold auto-milestone invoices.
func (s *Scheduler) AutopayRetryJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAutopayRetry)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	summary, err := s.autopay.Sweep(ctx)
	run.AddProcessed(summary.Scanned)
	obsmetrics.Scheduler().AddBatchProcessed(JobAutopayRetry, "invoices", summary.Scanned)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.autopay.failed", JobAutopayRetry, err,
			zap.Int("errors", summary.Errors),
		)
	}
	s.logger(ctx).Info("scheduler.autopay.summary",
		zap.String("run_id", run.runID),
		zap.Int("paid", summary.Paid),
		zap.Int("failed", summary.Failed),
		zap.Int("exhausted", summary.Exhausted),
		zap.Int("not_due", summary.NotDue),
	)
	return err
}

// ReconciliationJob backfills notifications for projects touched inside the lookback window.
func (s *Scheduler) ReconciliationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconciliation)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	opts := reconciliation.Options{}
	if s.cfg.LookbackDays > 0 {
		opts.Since = s.clock.Now().AddDate(0, 0, -s.cfg.LookbackDays)
	}
	report, err := s.reconciler.Run(ctx, opts)
	if errors.Is(err, reconciliation.ErrAlreadyRunning) {
		s.logger(ctx).Info("scheduler.reconciliation.busy", zap.String("run_id", run.runID))
		return nil
	}
	run.AddProcessed(report.ProjectsScanned)
	obsmetrics.Scheduler().AddBatchProcessed(JobReconciliation, "projects", report.ProjectsScanned)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reconciliation.failed", JobReconciliation, err,
			zap.String("reconciliation_run_id", report.RunID),
		)
	}
	return err
}

// DedupPruneJob drops expired dedup fingerprints.
func (s *Scheduler) DedupPruneJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobDedupPrune)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	n, err := s.pruner.Prune(ctx)
	run.AddProcessed(n)
	obsmetrics.Scheduler().AddBatchProcessed(JobDedupPrune, "fingerprints", n)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.dedup_prune.failed", JobDedupPrune, err)
	}
	return err
}
