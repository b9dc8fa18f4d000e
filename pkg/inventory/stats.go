package inventory

import (
	"context"
	"fmt"
	"time"
)

// Count is a labelled row count.
type Count struct {
	Key   string `gorm:"column:grp" json:"key"`
	Count int64  `gorm:"column:count" json:"count"`
}

func (s *Store) countBy(ctx context.Context, model any, column string) ([]Count, error) {
	var out []Count
	err := s.db.WithContext(ctx).Model(model).
		Select(fmt.Sprintf("COALESCE(%s, '') AS grp, COUNT(*) AS count", column)).
		Group(column).Order("grp ASC").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("count by %s: %w", column, err)
	}
	return out, nil
}

// CountsByType counts components per type.
func (s *Store) CountsByType(ctx context.Context) ([]Count, error) {
	return s.countBy(ctx, &Component{}, "type")
}

// CountsByStatus counts components per installation status.
func (s *Store) CountsByStatus(ctx context.Context) ([]Count, error) {
	return s.countBy(ctx, &Component{}, "installation_status")
}

// CountsByConnectionType counts connections per connection type. Untyped
// connections are reported under the empty key.
func (s *Store) CountsByConnectionType(ctx context.Context) ([]Count, error) {
	return s.countBy(ctx, &Connection{}, "connection_type")
}

// Dashboard is the summary shown on the landing page.
type Dashboard struct {
	Total       int64        `json:"total"`
	Installed   int64        `json:"installed"`
	Spare       int64        `json:"spare"`
	Testing     int64        `json:"testing"`
	RecentTests int64        `json:"recentTests"`
	Since       time.Time    `json:"since"`
	ByType      []Count      `json:"byType"`
	ByStatus    []Count      `json:"byStatus"`
	Latest      []TestResult `json:"latest"`
	OpenIssues  int64        `json:"openIssues"`
}

// Dashboard gathers counts and the ten most recent tests since the given time.
func (s *Store) Dashboard(ctx context.Context, since time.Time) (*Dashboard, error) {
	d := &Dashboard{Since: since.UTC()}
	db := s.db.WithContext(ctx)
	if err := db.Model(&Component{}).Count(&d.Total).Error; err != nil {
		return nil, fmt.Errorf("count components: %w", err)
	}
	var err error
	if d.ByType, err = s.CountsByType(ctx); err != nil {
		return nil, err
	}
	if d.ByStatus, err = s.CountsByStatus(ctx); err != nil {
		return nil, err
	}
	for _, c := range d.ByStatus {
		switch Status(c.Key) {
		case StatusInstalled:
			d.Installed = c.Count
		case StatusSpare:
			d.Spare = c.Count
		case StatusTesting:
			d.Testing = c.Count
		}
	}
	if err := db.Model(&TestResult{}).Where("test_date >= ?", d.Since).Count(&d.RecentTests).Error; err != nil {
		return nil, fmt.Errorf("count recent tests: %w", err)
	}
	if d.Latest, err = s.RecentTests(ctx, time.Time{}, 10); err != nil {
		return nil, err
	}
	if err := db.Model(&MaintenanceLog{}).Where("log_type = ? AND resolved_date IS NULL", LogIssue).
		Count(&d.OpenIssues).Error; err != nil {
		return nil, fmt.Errorf("count open issues: %w", err)
	}
	return d, nil
}
