package guard

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrJobDisabled = errors.New("scheduler_job_disabled")
	ErrJobNotDue   = errors.New("scheduler_job_not_due")
)

// EnsureJobEnabled passes every job when enabled is empty.
func EnsureJobEnabled(job string, enabled []string) error {
	if len(enabled) == 0 {
		return nil
	}
	for _, name := range enabled {
		if strings.EqualFold(strings.TrimSpace(name), job) {
			return nil
		}
	}
	return ErrJobDisabled
}

// EnsureJobDue reports whether interval has elapsed since lastRun. A zero
// lastRun is always due.
func EnsureJobDue(lastRun time.Time, interval time.Duration, now time.Time) error {
	if lastRun.IsZero() || interval <= 0 {
		return nil
	}
	if now.Before(lastRun.Add(interval)) {
		return ErrJobNotDue
	}
	return nil
}
