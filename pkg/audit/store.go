package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RequestEvent is one audited mutating HTTP request.
type RequestEvent struct {
	ID           string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Actor        string    `gorm:"column:actor;type:varchar(255);not null;index:idx_request_events_actor" json:"actor"`
	Method       string    `gorm:"column:method;type:varchar(8);not null" json:"method"`
	Path         string    `gorm:"column:path;not null" json:"path"`
	Action       string    `gorm:"column:action;type:varchar(64)" json:"action,omitempty"`
	ResourceType string    `gorm:"column:resource_type;type:varchar(64);index:idx_request_events_resource" json:"resourceType,omitempty"`
	ResourceID   string    `gorm:"column:resource_id;type:varchar(255);index:idx_request_events_resource" json:"resourceId,omitempty"`
	Outcome      string    `gorm:"column:outcome;type:varchar(16);not null" json:"outcome"`
	StatusCode   int       `gorm:"column:status_code" json:"statusCode"`
	RequestID    string    `gorm:"column:request_id;type:varchar(255)" json:"requestId,omitempty"`
	DurationMs   int64     `gorm:"column:duration_ms" json:"durationMs"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_request_events_created" json:"createdAt"`
}

// TableName returns the GORM table name.
func (RequestEvent) TableName() string { return "request_events" }

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Actor        string
	ResourceType string
	ResourceID   string
	Outcome      string
}

// Store provides append-only operations for request events.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the request_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&RequestEvent{})
}

// Append creates a new immutable event record.
func (s *Store) Append(ctx context.Context, event *RequestEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append request event: %w", err)
	}
	return nil
}

// Get returns one event, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*RequestEvent, error) {
	var ev RequestEvent
	if err := s.db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get request event: %w", err)
	}
	return &ev, nil
}

// List returns paginated events ordered by created_at DESC (newest first).
// pageToken is an RFC3339 timestamp; events with created_at < pageToken are returned.
func (s *Store) List(ctx context.Context, filter ListFilter, pageSize int, pageToken string) ([]RequestEvent, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&RequestEvent{})
		if filter.Actor != "" {
			q = q.Where("actor = ?", filter.Actor)
		}
		if filter.ResourceType != "" {
			q = q.Where("resource_type = ?", filter.ResourceType)
		}
		if filter.ResourceID != "" {
			q = q.Where("resource_id = ?", filter.ResourceID)
		}
		if filter.Outcome != "" {
			q = q.Where("outcome = ?", filter.Outcome)
		}
		return q
	}

	var totalSize int64
	if err := base().Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count request events: %w", err)
	}

	query := base().Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var records []RequestEvent
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list request events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}
	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes events created before the given cutoff time.
// Returns the number of deleted records.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&RequestEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old request events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
