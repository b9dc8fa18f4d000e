package main

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/db"
	"github.com/hps-svt/tracker/pkg/ingest"
	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/logging"
)

// session is the open database for one command invocation.
type session struct {
	cfg    config.Config
	gdb    *gorm.DB
	store  *inventory.Store
	logger *zap.Logger
}

var current *session

// loadConfig reads the config file and applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Type = "sqlite"
		cfg.Database.Path = dbPath
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	cfg.Log.Level = "warn"
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openSession connects to the database and brings the schema up to date.
func openSession(cmd *cobra.Command) (*session, error) {
	if current != nil {
		return current, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	current = &session{
		cfg:    cfg,
		gdb:    gdb,
		store:  inventory.NewStore(gdb, cfg.DataDir, inventory.WithLogger(logger)),
		logger: logger,
	}
	return current, nil
}

func openStore(cmd *cobra.Command) (*inventory.Store, error) {
	s, err := openSession(cmd)
	if err != nil {
		return nil, err
	}
	return s.store, nil
}

func closeSession() {
	if current == nil {
		return
	}
	_ = current.logger.Sync()
	_ = db.Close(current.gdb)
	current = nil
}

// whoami is the default for the *_by fields.
func whoami() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func byOrWhoami(by string) string {
	if strings.TrimSpace(by) == "" {
		return whoami()
	}
	return strings.TrimSpace(by)
}

// parseAssignments turns key=value pairs into an attribute bag. Values use
// the spreadsheet cell rules: numbers stay numeric, an empty value is null.
func parseAssignments(pairs []string) (inventory.Bag, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	bag := inventory.Bag{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		bag[k] = ingest.ParseCell(v)
	}
	return bag, nil
}
