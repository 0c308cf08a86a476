package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/gigledger/internal/observability/metrics"
)

const lockPrefix = "gigledger:scheduler:"

func jobLockKey(job string) string {
	return lockPrefix + job
}

// withJobLock runs fn under the job's Redis lock so overlapping processes do
// not double-run a sweep. Without Redis every process runs its own jobs.
func (s *Scheduler) withJobLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	ran, err := s.locker.WithLock(ctx, jobLockKey(job), s.cfg.LockTTL, fn)
	if err != nil {
		return err
	}
	if !ran {
		return obsmetrics.ErrLockHeld
	}
	return nil
}
