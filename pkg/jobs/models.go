package jobs

import (
	"time"
)

// JobState represents the lifecycle state of an analysis job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// DefaultTestType is recorded for analysis jobs that do not name one.
const DefaultTestType = "edge_imaging"

// AnalysisJob is the GORM model for an OCR analysis of an uploaded image.
type AnalysisJob struct {
	ID             string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	ComponentID    string     `gorm:"column:component_id;type:varchar(128);not null;index:idx_analysis_component" json:"componentId"`
	ImagePath      string     `gorm:"column:image_path;not null" json:"imagePath"`
	TestType       string     `gorm:"column:test_type;not null" json:"testType"`
	Notes          string     `gorm:"column:notes;type:text" json:"notes,omitempty"`
	RequestedBy    string     `gorm:"column:requested_by;not null" json:"requestedBy"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null;index:idx_analysis_requested" json:"requestedAt"`
	State          JobState   `gorm:"column:state;type:varchar(16);index:idx_analysis_state;not null;default:queued" json:"state"`
	Message        string     `gorm:"column:message" json:"message,omitempty"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"startedAt,omitempty"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	AttemptCount   int        `gorm:"column:attempt_count;default:0" json:"attemptCount"`
	LastError      string     `gorm:"column:last_error" json:"lastError,omitempty"`
	TestID         *uint      `gorm:"column:test_id" json:"testId,omitempty"`
	IdempotencyKey *string    `gorm:"column:idempotency_key;type:varchar(255);uniqueIndex:idx_analysis_idemp_key" json:"-"`
	DurationMs     int64      `gorm:"column:duration_ms" json:"durationMs,omitempty"`
}

// TableName returns the GORM table name.
func (AnalysisJob) TableName() string { return "analysis_jobs" }

// IsTerminal returns true if the job is in a terminal state.
func (j *AnalysisJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCanceled:
		return true
	}
	return false
}
