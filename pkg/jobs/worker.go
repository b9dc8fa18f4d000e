package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/metrics"
)

// Analyzer extracts measurements from a stored image.
type Analyzer interface {
	Analyze(ctx context.Context, imagePath string) (inventory.Bag, error)
}

// TestRecorder stores a test result. It is satisfied by *inventory.Store.
type TestRecorder interface {
	RecordTest(ctx context.Context, rec inventory.TestRecord) (*inventory.TestResult, error)
}

// WorkerPool processes queued analysis jobs using a pool of goroutines.
type WorkerPool struct {
	store      *JobStore
	analyzer   Analyzer
	recorder   TestRecorder
	cfg        *JobConfig
	logger     *zap.Logger
	stagingDir string
	onFinish   []func(job *AnalysisJob, state JobState)
	wg         sync.WaitGroup
}

// WorkerOption configures a WorkerPool.
type WorkerOption func(*WorkerPool)

// WithStagingDir names the directory uploads wait in until analysed. A
// job's image inside it is deleted once the job succeeds or fails for good,
// and the cleanup pass removes stale files no active job refers to.
func WithStagingDir(dir string) WorkerOption {
	return func(wp *WorkerPool) { wp.stagingDir = dir }
}

// WithFinishHook registers fn to run after a job reaches succeeded or failed.
func WithFinishHook(fn func(job *AnalysisJob, state JobState)) WorkerOption {
	return func(wp *WorkerPool) { wp.onFinish = append(wp.onFinish, fn) }
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *JobStore, analyzer Analyzer, recorder TestRecorder, cfg *JobConfig, logger *zap.Logger, opts ...WorkerOption) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	wp := &WorkerPool{
		store:    store,
		analyzer: analyzer,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(wp)
	}
	return wp
}

// Run starts the worker pool. It spawns cfg.Concurrency goroutines,
// each polling for jobs. It blocks until the context is cancelled,
// then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || !wp.cfg.Enabled {
		wp.logger.Info("job worker pool disabled")
		return
	}

	wp.logger.Info("job worker pool starting",
		zap.Int("concurrency", wp.cfg.Concurrency),
		zap.Int("maxRetries", wp.cfg.MaxRetries),
		zap.Duration("pollInterval", wp.cfg.PollInterval))

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.cleanupLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("job worker pool shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("job worker pool stopped")
}

func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.processOne(ctx, workerID)
		}
	}
}

// processOne tries to claim and process a single job. It reports whether a
// job was claimed.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) bool {
	job, err := wp.store.Claim(ctx, wp.cfg.MaxRetries)
	if err != nil {
		wp.logger.Error("failed to claim job", zap.Int("workerID", workerID), zap.Error(err))
		return false
	}
	if job == nil {
		return false
	}

	log := wp.logger.With(
		zap.Int("workerID", workerID),
		zap.String("jobID", job.ID),
		zap.String("component", job.ComponentID),
		zap.Int("attempt", job.AttemptCount))
	log.Info("processing job")

	start := time.Now()
	testID, err := wp.execute(ctx, job)

	// Once claimed, the job's state must be written even if shutdown has
	// cancelled ctx; otherwise it stays running until the stuck-job sweep.
	bookCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Error("job failed", zap.Error(err))
		retried, failErr := wp.store.Fail(bookCtx, job.ID, err.Error(), wp.cfg.MaxRetries)
		if failErr != nil {
			log.Error("failed to mark job as failed", zap.Error(failErr))
			return true
		}
		if retried {
			metrics.JobProcessed("retried")
		} else {
			metrics.JobProcessed("failed")
			wp.finish(job, JobStateFailed)
		}
		return true
	}

	if err := wp.store.Complete(bookCtx, job.ID, testID, time.Since(start)); err != nil {
		log.Error("failed to mark job as complete", zap.Error(err))
		return true
	}
	metrics.JobProcessed("succeeded")
	log.Info("job completed", zap.Uint("testID", testID), zap.Duration("duration", time.Since(start)))
	wp.finish(job, JobStateSucceeded)
	return true
}

func (wp *WorkerPool) finish(job *AnalysisJob, state JobState) {
	if wp.staged(job.ImagePath) {
		if err := os.Remove(job.ImagePath); err != nil && !os.IsNotExist(err) {
			wp.logger.Warn("remove staged image", zap.String("path", job.ImagePath), zap.Error(err))
		}
	}
	for _, fn := range wp.onFinish {
		fn(job, state)
	}
}

// staged reports whether path lies inside the staging directory.
func (wp *WorkerPool) staged(path string) bool {
	if wp.stagingDir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(wp.stagingDir, path)
	return err == nil && rel != "." && !filepath.IsAbs(rel) && !strings.HasPrefix(rel, "..")
}

// execute records the test for job, unless an earlier attempt already did.
func (wp *WorkerPool) execute(ctx context.Context, job *AnalysisJob) (uint, error) {
	if job.TestID != nil {
		return *job.TestID, nil
	}
	if wp.analyzer == nil || wp.recorder == nil {
		return 0, fmt.Errorf("no analyzer configured")
	}

	bag, err := wp.analyzer.Analyze(ctx, job.ImagePath)
	if err != nil {
		return 0, fmt.Errorf("analyze %s: %w", job.ImagePath, err)
	}

	// The test row and the job's reference to it commit together, so a
	// retry after any failure either sees TestID or finds nothing recorded.
	result, err := wp.recorder.RecordTest(ctx, inventory.TestRecord{
		ComponentID:  job.ComponentID,
		TestType:     job.TestType,
		Measurements: bag,
		TestedBy:     job.RequestedBy,
		Notes:        job.Notes,
		Files: []inventory.Attachment{{
			SourcePath:  job.ImagePath,
			FileType:    inventory.FileImage,
			Description: "analyzed image",
		}},
		InTx: func(tx *gorm.DB, res *inventory.TestResult) error {
			return AttachTestTx(tx, job.ID, res.ID)
		},
	})
	if err != nil {
		return 0, fmt.Errorf("record test: %w", err)
	}
	metrics.TestRecorded(result.TestType)
	return result.ID, nil
}

// cleanupLoop periodically recovers stuck jobs and deletes old finished ones.
func (wp *WorkerPool) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.cleanup(ctx)
		}
	}
}

func (wp *WorkerPool) cleanup(ctx context.Context) {
	if wp.cfg.ClaimTimeout > 0 {
		recovered, err := wp.store.CleanupStuckJobs(ctx, wp.cfg.ClaimTimeout)
		if err != nil {
			wp.logger.Error("failed to cleanup stuck jobs", zap.Error(err))
		} else if recovered > 0 {
			wp.logger.Info("recovered stuck jobs", zap.Int64("count", recovered))
		}
	}

	if wp.stagingDir != "" {
		wp.sweepStaged(ctx, time.Hour)
	}

	if wp.cfg.Retention > 0 {
		deleted, err := wp.store.DeleteOlderThan(ctx, time.Now().Add(-wp.cfg.Retention))
		if err != nil {
			wp.logger.Error("failed to delete old jobs", zap.Error(err))
		} else if deleted > 0 {
			wp.logger.Info("deleted old jobs", zap.Int64("count", deleted))
		}
	}
}

// sweepStaged removes staged files older than minAge that no queued or
// running job refers to, e.g. images of canceled jobs.
func (wp *WorkerPool) sweepStaged(ctx context.Context, minAge time.Duration) int {
	entries, err := os.ReadDir(wp.stagingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			wp.logger.Warn("read staging directory", zap.String("dir", wp.stagingDir), zap.Error(err))
		}
		return 0
	}
	removed := 0
	cutoff := time.Now().Add(-minAge)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(wp.stagingDir, e.Name())
		active, err := wp.store.CountActiveForImage(ctx, path)
		if err != nil {
			wp.logger.Warn("check staged image", zap.String("path", path), zap.Error(err))
			return removed
		}
		if active > 0 {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	if removed > 0 {
		wp.logger.Info("removed stale staged images", zap.Int("count", removed))
	}
	return removed
}
