package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionWorker periodically cleans up old audit events.
type RetentionWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewRetentionWorker creates a new RetentionWorker. A zero interval means daily.
func NewRetentionWorker(store *Store, retention, interval time.Duration, logger *zap.Logger) *RetentionWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionWorker{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

// Run starts the retention worker. It runs until the context is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("audit retention worker disabled",
			zap.Bool("hasStore", w.store != nil),
			zap.Duration("retention", w.retention))
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("audit retention worker started",
		zap.Duration("retention", w.retention),
		zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit retention worker stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

// cleanup performs a single retention pass.
func (w *RetentionWorker) cleanup(ctx context.Context) int64 {
	cutoff := time.Now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("audit retention cleanup failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		w.logger.Info("audit retention cleanup completed",
			zap.Int64("deleted", deleted),
			zap.String("cutoff", cutoff.Format(time.RFC3339)))
	}
	return deleted
}
