package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AddLog appends a maintenance entry. Type defaults to note and severity to
// info.
func (s *Store) AddLog(ctx context.Context, entry *MaintenanceLog) error {
	if entry.LogType == "" {
		entry.LogType = LogNote
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if !entry.LogType.Valid() {
		return invalid("invalid log type %q (valid: %s)", entry.LogType, strings.Join(inList(LogTypes), ", "))
	}
	if !entry.Severity.Valid() {
		return invalid("invalid severity %q (valid: %s)", entry.Severity, strings.Join(inList(Severities), ", "))
	}
	if strings.TrimSpace(entry.Description) == "" {
		return invalid("description is required")
	}
	if entry.LogDate.IsZero() {
		entry.LogDate = s.timestamp()
	}
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		if err := requireComponent(tx, entry.ComponentID); err != nil {
			return err
		}
		return insertLog(tx, entry)
	})
	if err != nil {
		return err
	}
	s.logger.Info("maintenance logged",
		zap.Uint("id", entry.ID), zap.String("component", entry.ComponentID), zap.String("type", string(entry.LogType)))
	return nil
}

func insertLog(tx *gorm.DB, entry *MaintenanceLog) error {
	if err := tx.Omit("Component").Create(entry).Error; err != nil {
		return fmt.Errorf("create maintenance log: %w", err)
	}
	return nil
}

// Logs returns the maintenance entries of a component, newest first.
func (s *Store) Logs(ctx context.Context, componentID string) ([]MaintenanceLog, error) {
	db := s.db.WithContext(ctx)
	if err := requireComponent(db, componentID); err != nil {
		return nil, err
	}
	var out []MaintenanceLog
	if err := db.Where("component_id = ?", componentID).
		Order("log_date DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list maintenance logs: %w", err)
	}
	return out, nil
}

// GetLog returns a single maintenance entry.
func (s *Store) GetLog(ctx context.Context, id uint) (*MaintenanceLog, error) {
	var l MaintenanceLog
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("log entry", fmt.Sprint(id))
		}
		return nil, fmt.Errorf("get maintenance log: %w", err)
	}
	return &l, nil
}

// ResolveLog records a resolution and stamps the resolved date.
func (s *Store) ResolveLog(ctx context.Context, id uint, resolution string) (*MaintenanceLog, error) {
	if strings.TrimSpace(resolution) == "" {
		return nil, invalid("resolution is required")
	}
	var out *MaintenanceLog
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var l MaintenanceLog
		if err := tx.Where("id = ?", id).First(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("log entry", fmt.Sprint(id))
			}
			return fmt.Errorf("get maintenance log: %w", err)
		}
		now := s.timestamp()
		if err := tx.Model(&MaintenanceLog{}).Where("id = ?", id).Updates(map[string]any{
			"resolution":    resolution,
			"resolved_date": now,
		}).Error; err != nil {
			return fmt.Errorf("resolve maintenance log: %w", err)
		}
		l.Resolution = resolution
		l.ResolvedDate = &now
		out = &l
		return nil
	})
	return out, err
}

// OpenIssues returns unresolved issue entries across all components, most
// severe and newest first.
func (s *Store) OpenIssues(ctx context.Context) ([]MaintenanceLog, error) {
	var out []MaintenanceLog
	err := s.db.WithContext(ctx).
		Where("log_type = ? AND resolved_date IS NULL", LogIssue).
		Order("CASE severity WHEN 'critical' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END").
		Order("log_date DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list open issues: %w", err)
	}
	return out, nil
}
