package audit

import (
	"time"

	"github.com/hps-svt/tracker/pkg/config"
)

// AuditConfig controls audit behavior.
type AuditConfig struct {
	Retention time.Duration // Default 90 days
	Interval  time.Duration // Retention pass period. Default 24h
	Enabled   bool          // Whether audit middleware is active
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Retention: 90 * 24 * time.Hour,
		Interval:  24 * time.Hour,
		Enabled:   true,
	}
}

// FromConfig converts the loaded configuration section.
func FromConfig(c config.AuditConfig) *AuditConfig {
	cfg := DefaultAuditConfig()
	cfg.Enabled = c.Enabled
	if c.Retention > 0 {
		cfg.Retention = c.Retention
	}
	if c.Interval > 0 {
		cfg.Interval = c.Interval
	}
	return cfg
}
