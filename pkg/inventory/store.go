// Package inventory is the tracker's data model: components, their
// installation ledger and assembly, test results with attached files,
// connections, maintenance logs and images. Every operation that writes more
// than one row runs inside a single database transaction.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store provides every read and write operation over the inventory tables.
type Store struct {
	db      *gorm.DB
	dataDir string
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for operation traces.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store over db. dataDir is the root of the managed file
// tree for test attachments and component pictures.
func NewStore(db *gorm.DB, dataDir string, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dataDir: dataDir,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates or updates the inventory tables.
func (s *Store) AutoMigrate() error {
	for _, m := range Models() {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	return nil
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// DataDir returns the managed file root.
func (s *Store) DataDir() string { return s.dataDir }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func loadComponent(tx *gorm.DB, id string) (*Component, error) {
	var c Component
	if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("component", id)
		}
		return nil, fmt.Errorf("get component: %w", err)
	}
	return &c, nil
}

func componentExists(tx *gorm.DB, id string) (bool, error) {
	var n int64
	if err := tx.Model(&Component{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check component: %w", err)
	}
	return n > 0, nil
}

func requireComponent(tx *gorm.DB, id string) error {
	ok, err := componentExists(tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("component", id)
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
