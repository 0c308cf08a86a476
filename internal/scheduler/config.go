package scheduler

import (
	"time"

	"github.com/smallbiznis/gigledger/internal/config"
)

// Config controls the scheduler tick and per-job intervals.
type Config struct {
	RunInterval            time.Duration
	AutopayInterval        time.Duration
	ReconciliationInterval time.Duration
	DedupPruneInterval     time.Duration
	JobTimeout             time.Duration
	LockTTL                time.Duration
	LookbackDays           int
	EnabledJobs            []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:            time.Minute,
		AutopayInterval:        24 * time.Hour,
		ReconciliationInterval: time.Hour,
		DedupPruneInterval:     time.Hour,
		JobTimeout:             5 * time.Minute,
		LockTTL:                10 * time.Minute,
		LookbackDays:           30,
	}
}

// ProvideConfig maps process configuration onto the scheduler.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:            cfg.Scheduler.RunInterval,
		AutopayInterval:        cfg.Scheduler.AutopayInterval,
		ReconciliationInterval: cfg.Scheduler.ReconciliationInterval,
		DedupPruneInterval:     cfg.Scheduler.DedupPruneInterval,
		LookbackDays:           cfg.Reconciliation.LookbackDays,
		EnabledJobs:            cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.AutopayInterval <= 0 {
		c.AutopayInterval = defaults.AutopayInterval
	}
	if c.ReconciliationInterval <= 0 {
		c.ReconciliationInterval = defaults.ReconciliationInterval
	}
	if c.DedupPruneInterval <= 0 {
		c.DedupPruneInterval = defaults.DedupPruneInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LookbackDays < 0 {
		c.LookbackDays = 0
	}
	return c
}
