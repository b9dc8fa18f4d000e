// Package config loads tracker configuration from an optional YAML file
// overlaid with SVT_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	DataDir  string         `mapstructure:"data_dir"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Backup   BackupConfig   `mapstructure:"backup"`
	OCR      OCRConfig      `mapstructure:"ocr"`
}

type DatabaseConfig struct {
	// Type is sqlite, postgres or mysql.
	Type            string        `mapstructure:"type"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	SessionKey      string        `mapstructure:"session_key"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	PageSize        int           `mapstructure:"page_size"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type JobsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	StuckAfter   time.Duration `mapstructure:"stuck_after"`
	Retention    time.Duration `mapstructure:"retention"`
}

type AuditConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Retention time.Duration `mapstructure:"retention"`
	Interval  time.Duration `mapstructure:"interval"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type BackupConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Dir      string `mapstructure:"dir"`
	Keep     int    `mapstructure:"keep"`
}

type OCRConfig struct {
	TesseractPath string        `mapstructure:"tesseract_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultHome is the per-user directory holding the database and test data.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".hps_svt_tracker")
}

// Load reads path (when non-empty) and applies SVT_* environment overrides,
// e.g. SVT_DATABASE_PATH or SVT_SERVER_HTTP_ADDR.
func Load(path string) (Config, error) {
	home := DefaultHome()

	v := viper.New()
	v.SetEnvPrefix("SVT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", filepath.Join(home, "svt_components.db"))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("data_dir", filepath.Join(home, "test_data"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", true)
	v.SetDefault("server.http_addr", ":5000")
	v.SetDefault("server.session_key", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.page_size", 50)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.concurrency", 2)
	v.SetDefault("jobs.poll_interval", "2s")
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.stuck_after", "10m")
	v.SetDefault("jobs.retention", "720h")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.retention", "2160h")
	v.SetDefault("audit.interval", "24h")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.max_entries", 64)
	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.schedule", "0 0 3 * * *")
	v.SetDefault("backup.dir", filepath.Join(home, "backups"))
	v.SetDefault("backup.keep", 14)
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.timeout", "60s")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
