package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotCancelable is returned when canceling a job that is not queued.
	ErrNotCancelable = errors.New("job cannot be canceled")
)

var (
	activeStates   = []JobState{JobStateQueued, JobStateRunning}
	terminalStates = []JobState{JobStateSucceeded, JobStateFailed, JobStateCanceled}
)

// JobStore provides database operations for analysis jobs.
type JobStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// AutoMigrate creates or updates the analysis_jobs table.
func (s *JobStore) AutoMigrate() error {
	return s.db.AutoMigrate(&AnalysisJob{})
}

// JobListFilter defines filters for listing jobs.
type JobListFilter struct {
	ComponentID string
	State       string
	RequestedBy string
}

// Enqueue creates a new queued job. If the job carries an idempotency key
// and an active job with the same key exists, the existing job is returned
// instead of creating a duplicate.
func (s *JobStore) Enqueue(ctx context.Context, job *AnalysisJob) (*AnalysisJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.TestType == "" {
		job.TestType = DefaultTestType
	}
	if job.State == "" {
		job.State = JobStateQueued
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = s.now()
	}
	if job.IdempotencyKey != nil && *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
	}

	db := s.db.WithContext(ctx)
	if job.IdempotencyKey == nil {
		if err := db.Create(job).Error; err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		return job, nil
	}

	var result *AnalysisJob
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing AnalysisJob
		err := tx.Where("idempotency_key = ? AND state IN ?", *job.IdempotencyKey, activeStates).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		// Release the key held by finished jobs so the unique index admits
		// the new one.
		if err := tx.Model(&AnalysisJob{}).
			Where("idempotency_key = ? AND state IN ?", *job.IdempotencyKey, terminalStates).
			Update("idempotency_key", gorm.Expr("NULL")).Error; err != nil {
			return fmt.Errorf("release idempotency key: %w", err)
		}

		if err := tx.Create(job).Error; err != nil {
			var raceExisting AnalysisJob
			lookupErr := s.db.WithContext(ctx).
				Where("idempotency_key = ? AND state IN ?", *job.IdempotencyKey, activeStates).
				First(&raceExisting).Error
			if lookupErr == nil {
				result = &raceExisting
				return nil
			}
			return fmt.Errorf("enqueue job: %w", err)
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Claim atomically picks the oldest queued job and transitions it to
// running. Uses FOR UPDATE SKIP LOCKED where supported (PostgreSQL).
// Returns nil if no jobs are available.
func (s *JobStore) Claim(ctx context.Context, maxRetries int) (*AnalysisJob, error) {
	var job AnalysisJob

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Raw(`
			SELECT * FROM analysis_jobs
			WHERE state = ? AND attempt_count <= ?
			ORDER BY requested_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, JobStateQueued, maxRetries).Scan(&job)

		if result.Error != nil {
			// SQLite has no row locks; a plain select is enough there.
			result = tx.Where("state = ? AND attempt_count <= ?", JobStateQueued, maxRetries).
				Order("requested_at ASC").
				Limit(1).
				First(&job)
			if result.Error != nil {
				if errors.Is(result.Error, gorm.ErrRecordNotFound) {
					return nil
				}
				return result.Error
			}
		}

		if job.ID == "" {
			return nil
		}

		return tx.Model(&AnalysisJob{}).Where("id = ? AND state = ?", job.ID, JobStateQueued).
			Updates(map[string]any{
				"state":         JobStateRunning,
				"started_at":    s.now(),
				"attempt_count": gorm.Expr("attempt_count + 1"),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}

	if err := s.db.WithContext(ctx).First(&job, "id = ?", job.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed job: %w", err)
	}
	return &job, nil
}

// AttachTest stores the id of the recorded test before the job is marked
// complete, so a retried job does not record it twice.
func (s *JobStore) AttachTest(ctx context.Context, jobID string, testID uint) error {
	return AttachTestTx(s.db.WithContext(ctx), jobID, testID)
}

// AttachTestTx is AttachTest on a caller's transaction, so the test row and
// the job's reference to it commit together.
func AttachTestTx(tx *gorm.DB, jobID string, testID uint) error {
	res := tx.Model(&AnalysisJob{}).Where("id = ?", jobID).Update("test_id", testID)
	if res.Error != nil {
		return fmt.Errorf("attach test: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attach test: job %s not found", jobID)
	}
	return nil
}

// CountActiveForImage counts queued or running jobs that will read path.
func (s *JobStore) CountActiveForImage(ctx context.Context, path string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("image_path = ? AND state IN ?", path, []JobState{JobStateQueued, JobStateRunning}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count jobs for image: %w", err)
	}
	return n, nil
}

// Complete marks a job as succeeded.
func (s *JobStore) Complete(ctx context.Context, jobID string, testID uint, duration time.Duration) error {
	result := s.db.WithContext(ctx).Model(&AnalysisJob{}).Where("id = ?", jobID).Updates(map[string]any{
		"state":       JobStateSucceeded,
		"finished_at": s.now(),
		"test_id":     testID,
		"duration_ms": duration.Milliseconds(),
		"message":     fmt.Sprintf("Recorded test %d", testID),
	})
	if result.Error != nil {
		return fmt.Errorf("complete job: %w", result.Error)
	}
	return nil
}

// Fail records a failed attempt. While the attempt count is below
// maxRetries the job is re-queued; otherwise it is marked failed. The
// returned bool reports whether the job was re-queued.
func (s *JobStore) Fail(ctx context.Context, jobID string, errMsg string, maxRetries int) (bool, error) {
	db := s.db.WithContext(ctx)
	var job AnalysisJob
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		return false, fmt.Errorf("load job for fail: %w", err)
	}

	updates := map[string]any{
		"last_error":  errMsg,
		"finished_at": s.now(),
	}
	retry := job.AttemptCount < maxRetries
	if retry {
		updates["state"] = JobStateQueued
		updates["started_at"] = nil
		updates["finished_at"] = nil
	} else {
		updates["state"] = JobStateFailed
		updates["message"] = "Max retries exceeded: " + errMsg
	}

	if err := db.Model(&AnalysisJob{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return retry, nil
}

// Cancel marks a queued job as canceled. Running jobs cannot be canceled.
func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	db := s.db.WithContext(ctx)
	result := db.Model(&AnalysisJob{}).
		Where("id = ? AND state = ?", jobID, JobStateQueued).
		Updates(map[string]any{
			"state":       JobStateCanceled,
			"finished_at": s.now(),
			"message":     "Canceled by user",
		})
	if result.Error != nil {
		return fmt.Errorf("cancel job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var job AnalysisJob
		if err := db.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return fmt.Errorf("check job: %w", err)
		}
		return fmt.Errorf("%w: job %s is %s, only queued jobs can be canceled", ErrNotCancelable, jobID, job.State)
	}
	return nil
}

// Get retrieves a job by ID. It returns nil, nil when the job does not exist.
func (s *JobStore) Get(ctx context.Context, jobID string) (*AnalysisJob, error) {
	var job AnalysisJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// List returns paginated jobs matching the given filter, newest first.
func (s *JobStore) List(ctx context.Context, filter JobListFilter, pageSize int, pageToken string) ([]AnalysisJob, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&AnalysisJob{})
		if filter.ComponentID != "" {
			q = q.Where("component_id = ?", filter.ComponentID)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.RequestedBy != "" {
			q = q.Where("requested_by = ?", filter.RequestedBy)
		}
		return q
	}

	db := s.db.WithContext(ctx)
	var totalSize int64
	if err := buildQuery(db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count jobs: %w", err)
	}

	query := buildQuery(db).Order("requested_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("requested_at < ?", t)
	}

	var records []AnalysisJob
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list jobs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].RequestedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}

// CleanupStuckJobs transitions running jobs that have been stuck
// (started_at older than claimTimeout) back to queued for retry.
func (s *JobStore) CleanupStuckJobs(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	cutoff := s.now().Add(-claimTimeout)
	result := s.db.WithContext(ctx).Model(&AnalysisJob{}).
		Where("state = ? AND started_at < ?", JobStateRunning, cutoff).
		Updates(map[string]any{
			"state":      JobStateQueued,
			"started_at": nil,
			"last_error": "Timed out (stuck job recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stuck jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes terminal jobs that finished before cutoff.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("state IN ? AND finished_at < ?", terminalStates, cutoff.UTC()).
		Delete(&AnalysisJob{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
