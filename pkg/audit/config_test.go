package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hps-svt/tracker/pkg/config"
)

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	assert.Equal(t, 90*24*time.Hour, cfg.Retention)
	assert.Equal(t, 24*time.Hour, cfg.Interval)
	assert.True(t, cfg.Enabled)
}

func TestAuditFromConfig(t *testing.T) {
	cfg := FromConfig(config.AuditConfig{Enabled: false, Retention: time.Hour})
	assert.False(t, cfg.Enabled)
	assert.Equal(t, time.Hour, cfg.Retention)
	assert.Equal(t, 24*time.Hour, cfg.Interval)
}
