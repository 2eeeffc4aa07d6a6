package scheduler

import (
	"strings"
	"time"

	"github.com/manyfutures/foresight/internal/config"
)

// Config controls scheduler intervals, batch sizes and retry policy.
type Config struct {
	RunInterval time.Duration
	BatchSize   int

	// LeadTime is how far ahead of the scheduled slot an episode row is
	// created and generation may start.
	LeadTime time.Duration

	MaxAttempts       int
	RetryBackoff      time.Duration
	GenerationTimeout time.Duration

	// WindowGrace is how far past its slot an episode may still publish
	// before the sweep fails it.
	WindowGrace time.Duration

	// EnabledJobs restricts which jobs this process runs. Empty means all
	// jobs (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         50,
		LeadTime:          4 * time.Hour,
		MaxAttempts:       3,
		RetryBackoff:      10 * time.Minute,
		GenerationTimeout: 5 * time.Minute,
		WindowGrace:       time.Hour,
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
	if c.LeadTime <= 0 {
		c.LeadTime = defaults.LeadTime
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = defaults.GenerationTimeout
	}
	if c.WindowGrace <= 0 {
		c.WindowGrace = defaults.WindowGrace
	}
	return c
}

// ProvideConfig maps application configuration onto the scheduler's own
// config type.
func ProvideConfig(cfg config.Config) Config {
	var enabled []string
	for _, job := range strings.Split(cfg.SchedulerEnabledJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			enabled = append(enabled, job)
		}
	}
	return Config{
		RunInterval:       time.Duration(cfg.SchedulerRunIntervalSec) * time.Second,
		BatchSize:         cfg.SchedulerBatchSize,
		LeadTime:          time.Duration(cfg.SchedulerLeadTimeMin) * time.Minute,
		MaxAttempts:       cfg.SchedulerMaxAttempts,
		RetryBackoff:      time.Duration(cfg.SchedulerRetryBackoffMin) * time.Minute,
		GenerationTimeout: time.Duration(cfg.SchedulerGenerationTimeoutSec) * time.Second,
		EnabledJobs:       enabled,
	}.withDefaults()
}
