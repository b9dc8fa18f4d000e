package cache

import (
	"time"

	"github.com/hps-svt/tracker/pkg/config"
)

// CacheConfig holds configuration for the caching layer.
type CacheConfig struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// TTL bounds how stale a cached plot or stats body may get when no
	// write invalidates it first.
	TTL time.Duration

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int
}

// DefaultCacheConfig returns a CacheConfig with sensible defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled: true,
		TTL:     5 * time.Minute,
		MaxSize: 64,
	}
}

// FromConfig converts the loaded configuration section.
func FromConfig(c config.CacheConfig) *CacheConfig {
	cfg := DefaultCacheConfig()
	cfg.Enabled = c.Enabled
	if c.TTL > 0 {
		cfg.TTL = c.TTL
	}
	if c.MaxEntries > 0 {
		cfg.MaxSize = c.MaxEntries
	}
	return cfg
}
