package db

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema changes between processes sharing a
// database, e.g. svt-server starting while svtctl runs init.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

const migrationLockName = "svt-tracker-migration"

// NewMigrationLocker picks a lock for the dialect: advisory locks on
// PostgreSQL, GET_LOCK on MySQL and a lock row everywhere else.
func NewMigrationLocker(gdb *gorm.DB) MigrationLocker {
	if gdb == nil {
		return noopLock{}
	}
	switch gdb.Dialector.Name() {
	case TypePostgres:
		return &sessionLock{
			gdb:     gdb,
			acquire: "SELECT pg_advisory_lock($1)",
			release: "SELECT pg_advisory_unlock($1)",
			args:    []any{int64(crc32.ChecksumIEEE([]byte(migrationLockName)))},
		}
	case TypeMySQL:
		return &sessionLock{
			gdb:     gdb,
			acquire: "SELECT GET_LOCK(?, 60)",
			release: "SELECT RELEASE_LOCK(?)",
			args:    []any{migrationLockName},
		}
	}
	return &rowLock{gdb: gdb, retries: 30, wait: time.Second, staleAfter: 5 * time.Minute}
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// sessionLock holds a server-side lock on one pinned connection; advisory
// locks belong to the session that took them.
type sessionLock struct {
	gdb              *gorm.DB
	acquire, release string
	args             []any
}

func (l *sessionLock) WithLock(ctx context.Context, fn func() error) error {
	sqldb, err := l.gdb.DB()
	if err != nil {
		return err
	}
	conn, err := sqldb.Conn(ctx)
	if err != nil {
		return fmt.Errorf("pin connection for migration lock: %w", err)
	}
	defer conn.Close()

	if err := l.lock(ctx, conn); err != nil {
		return err
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), l.release, l.args...)
	}()
	return fn()
}

// lock blocks until the lock is held. pg_advisory_lock returns void;
// GET_LOCK returns 1 on success and 0 on timeout.
func (l *sessionLock) lock(ctx context.Context, conn *sql.Conn) error {
	if l.gdb.Dialector.Name() == TypePostgres {
		if _, err := conn.ExecContext(ctx, l.acquire, l.args...); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		return nil
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, l.acquire, l.args...).Scan(&got); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		return fmt.Errorf("acquire migration lock: timed out waiting for %s", migrationLockName)
	}
	return nil
}

// migrationLockRow is the lock row used on SQLite.
type migrationLockRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRow) TableName() string { return "migration_lock" }

// rowLock takes the lock by inserting a fixed primary key. Rows older than
// staleAfter are left over from a crashed process and are cleared.
type rowLock struct {
	gdb        *gorm.DB
	retries    int
	wait       time.Duration
	staleAfter time.Duration
}

func (l *rowLock) WithLock(ctx context.Context, fn func() error) error {
	db := l.gdb.WithContext(ctx)
	if err := db.AutoMigrate(&migrationLockRow{}); err != nil {
		return fmt.Errorf("create migration lock table: %w", err)
	}
	host, _ := os.Hostname()
	row := migrationLockRow{ID: "migration", LockedBy: fmt.Sprintf("%s/%d", host, os.Getpid())}

	for attempt := 1; ; attempt++ {
		db.Where("id = ? AND locked_at < ?", row.ID, time.Now().UTC().Add(-l.staleAfter)).Delete(&migrationLockRow{})
		row.LockedAt = time.Now().UTC()
		err := db.Create(&row).Error
		if err == nil {
			break
		}
		if attempt >= l.retries {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.wait):
		}
	}
	defer l.gdb.Where("id = ?", row.ID).Delete(&migrationLockRow{})
	return fn()
}
