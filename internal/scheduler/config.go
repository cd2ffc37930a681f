package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/partnerly/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval          time.Duration
	BatchSize            int
	MaxSweepBatchSize    int
	MaxDispatchBatchSize int
	MaxPollBatchSize     int
	RetentionBatchSize   int
	MaxDispatchAttempts  int

	// StaleThreshold is how long a submitted payout batch may sit at the
	// provider before the stale sweep starts warning about it.
	StaleThreshold time.Duration

	// EnabledJobs restricts the scheduler to the named jobs. Empty means
	// all jobs run.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:          time.Minute,
		BatchSize:            100,
		MaxSweepBatchSize:    100,
		MaxDispatchBatchSize: 100,
		MaxPollBatchSize:     25,
		RetentionBatchSize:   1000,
		MaxDispatchAttempts:  8,
		StaleThreshold:       24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxSweepBatchSize <= 0 {
		c.MaxSweepBatchSize = defaults.MaxSweepBatchSize
	}
	if c.MaxDispatchBatchSize <= 0 {
		c.MaxDispatchBatchSize = defaults.MaxDispatchBatchSize
	}
	if c.MaxPollBatchSize <= 0 {
		c.MaxPollBatchSize = defaults.MaxPollBatchSize
	}
	if c.RetentionBatchSize <= 0 {
		c.RetentionBatchSize = defaults.RetentionBatchSize
	}
	if c.MaxDispatchAttempts <= 0 {
		c.MaxDispatchAttempts = defaults.MaxDispatchAttempts
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaults.StaleThreshold
	}
	return c
}

// ProvideConfig builds the scheduler configuration from the application
// config plus scheduler-specific environment overrides.
func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	if cfg.Scheduler.RunIntervalSeconds > 0 {
		out.RunInterval = time.Duration(cfg.Scheduler.RunIntervalSeconds) * time.Second
	}
	if cfg.Scheduler.BatchSize > 0 {
		out.BatchSize = cfg.Scheduler.BatchSize
		out.MaxSweepBatchSize = cfg.Scheduler.BatchSize
		out.MaxDispatchBatchSize = cfg.Scheduler.BatchSize
	}
	if cfg.Scheduler.RetentionBatchSize > 0 {
		out.RetentionBatchSize = cfg.Scheduler.RetentionBatchSize
	}
	if cfg.Postback.MaxAttempts > 0 {
		out.MaxDispatchAttempts = cfg.Postback.MaxAttempts
	}
	for _, job := range cfg.Scheduler.EnabledJobs {
		if job = strings.TrimSpace(job); job != "" {
			out.EnabledJobs = append(out.EnabledJobs, job)
		}
	}
	return out.withDefaults()
}
