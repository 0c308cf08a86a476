package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrJobPanic = errors.New("scheduler_job_panic")

// safeRun turns a panicking job into an error so one bad job does not stop the loop.
func (s *Scheduler) safeRun(ctx context.Context, job string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
			s.logger(ctx).Error("scheduler.job.panic",
				zap.String("job", job),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	return fn(ctx)
}
