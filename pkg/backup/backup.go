// Package backup takes scheduled snapshots of the tracker database.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/db"
)

// Snapshot writes one backup into dir and then prunes dir down to the keep
// newest snapshots. keep <= 0 keeps everything.
func Snapshot(ctx context.Context, gdb *gorm.DB, dir string, keep int) (string, []string, error) {
	dest, err := db.Backup(ctx, gdb, dir)
	if err != nil {
		return "", nil, err
	}
	removed, err := Prune(dir, keep)
	if err != nil {
		return dest, removed, err
	}
	return dest, removed, nil
}

// List returns the snapshot files in dir, newest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, db.BackupPrefix) || filepath.Ext(name) != ".db" {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	// Names embed a sortable timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Prune deletes all but the keep newest snapshots and returns what it removed.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	files, err := List(dir)
	if err != nil {
		return nil, err
	}
	if len(files) <= keep {
		return nil, nil
	}
	var removed []string
	for _, f := range files[keep:] {
		if err := os.Remove(f); err != nil {
			return removed, fmt.Errorf("remove old backup: %w", err)
		}
		removed = append(removed, f)
	}
	return removed, nil
}

// Runner schedules snapshots with a seconds-resolution cron.
type Runner struct {
	cron    *cron.Cron
	gdb     *gorm.DB
	logger  *zap.Logger
	baseCtx context.Context
}

// NewRunner builds an idle runner. Call Schedule, then Start.
func NewRunner(baseCtx context.Context, gdb *gorm.DB, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		gdb:     gdb,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Schedule adds a snapshot job. spec uses six fields, e.g. "0 0 3 * * *".
func (r *Runner) Schedule(spec, dir string, keep int) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() { r.run(dir, keep) })
	if err != nil {
		return 0, fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	return id, nil
}

// FromConfig returns a runner with the configured job scheduled, or nil
// when backups are disabled.
func FromConfig(baseCtx context.Context, cfg config.BackupConfig, gdb *gorm.DB, logger *zap.Logger) (*Runner, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := NewRunner(baseCtx, gdb, logger)
	if _, err := r.Schedule(cfg.Schedule, cfg.Dir, cfg.Keep); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) run(dir string, keep int) {
	dest, removed, err := Snapshot(r.baseCtx, r.gdb, dir, keep)
	if err != nil {
		r.logger.Error("scheduled backup failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	r.logger.Info("scheduled backup written", zap.String("path", dest), zap.Int("pruned", len(removed)))
}

// Entries reports the number of scheduled jobs.
func (r *Runner) Entries() int { return len(r.cron.Entries()) }

func (r *Runner) Start() {
	r.logger.Info("backup cron started")
	r.cron.Start()
}

// Stop waits for a running snapshot to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("backup cron stopped")
}
