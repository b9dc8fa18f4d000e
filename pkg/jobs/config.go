package jobs

import (
	"time"

	"github.com/hps-svt/tracker/pkg/config"
)

// JobConfig controls job queue and worker behavior.
type JobConfig struct {
	Concurrency  int           // Max concurrent workers. Default 2.
	MaxRetries   int           // Max retry attempts per job. Default 3.
	PollInterval time.Duration // How often workers poll for new jobs. Default 2s.
	ClaimTimeout time.Duration // Max time a job can be running before considered stuck. Default 10m.
	Retention    time.Duration // How long to keep finished jobs. Default 30 days.
	Enabled      bool
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:  2,
		MaxRetries:   3,
		PollInterval: 2 * time.Second,
		ClaimTimeout: 10 * time.Minute,
		Retention:    30 * 24 * time.Hour,
		Enabled:      true,
	}
}

// FromConfig converts the loaded configuration section, keeping defaults
// for unset values.
func FromConfig(c config.JobsConfig) *JobConfig {
	cfg := DefaultJobConfig()
	cfg.Enabled = c.Enabled
	if c.Concurrency > 0 {
		cfg.Concurrency = c.Concurrency
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.PollInterval > 0 {
		cfg.PollInterval = c.PollInterval
	}
	if c.StuckAfter > 0 {
		cfg.ClaimTimeout = c.StuckAfter
	}
	if c.Retention > 0 {
		cfg.Retention = c.Retention
	}
	return cfg
}
