// Package db opens the tracker database and owns its schema.
package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hps-svt/tracker/pkg/audit"
	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/jobs"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Open connects to the configured database. SQLite databases get their
// parent directory created, foreign keys enabled and a single connection.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", typeOf(cfg), err)
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if typeOf(cfg) == TypeSQLite {
		sqldb.SetMaxOpenConns(1)
	} else {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	log.Info("database opened", zap.String("type", typeOf(cfg)), zap.String("path", cfg.Path))
	return gdb, nil
}

func typeOf(cfg config.DatabaseConfig) string {
	if cfg.Type == "" {
		return TypeSQLite
	}
	return strings.ToLower(cfg.Type)
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch typeOf(cfg) {
	case TypeSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite database path is required")
		}
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return sqlite.Open(cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), nil
	case TypePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres requires database.dsn")
		}
		return postgres.Open(cfg.DSN), nil
	case TypeMySQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("mysql requires database.dsn")
		}
		dsn, err := mysqlDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database type %q (valid: sqlite, postgres, mysql)", cfg.Type)
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time.
func mysqlDSN(dsn string) (string, error) {
	parsed, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	if parsed.Loc == nil {
		parsed.Loc = time.UTC
	}
	return parsed.FormatDSN(), nil
}

// Models lists every table the tracker owns, in creation order.
func Models() []any {
	models := inventory.Models()
	return append(models, &jobs.AnalysisJob{}, &audit.RequestEvent{})
}

// Migrate creates or updates every table.
func Migrate(gdb *gorm.DB) error {
	return NewMigrationLocker(gdb).WithLock(context.Background(), func() error {
		for _, m := range Models() {
			if err := gdb.AutoMigrate(m); err != nil {
				return fmt.Errorf("auto-migrate %T: %w", m, err)
			}
		}
		return nil
	})
}

// Reset drops every tracker table and creates them again empty.
func Reset(gdb *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := gdb.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("drop %T: %w", models[i], err)
		}
	}
	return Migrate(gdb)
}

// Ping checks connectivity.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqldb, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqldb.PingContext(ctx)
}

// Close releases the connection pool.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqldb, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

// BackupPrefix starts every snapshot file name.
const BackupPrefix = "svt_components_"

// Backup writes a consistent snapshot of a SQLite database into dir as
// svt_components_<YYYYmmdd_HHMMSS>.db and returns its path.
func Backup(ctx context.Context, gdb *gorm.DB, dir string) (string, error) {
	if name := gdb.Dialector.Name(); name != "sqlite" {
		return "", fmt.Errorf("backup is only supported for sqlite, not %s", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	dest := filepath.Join(dir, BackupPrefix+time.Now().Format("20060102_150405")+".db")
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("backup %s already exists", dest)
	}
	if err := gdb.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}
	return dest, nil
}
