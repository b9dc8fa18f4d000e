// Package main runs the SVT tracker web server: dashboard pages, the JSON
// API, the image analysis workers and the scheduled backups in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/audit"
	"github.com/hps-svt/tracker/pkg/backup"
	"github.com/hps-svt/tracker/pkg/cache"
	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/db"
	"github.com/hps-svt/tracker/pkg/ingest"
	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/jobs"
	"github.com/hps-svt/tracker/pkg/logging"
	"github.com/hps-svt/tracker/pkg/metrics"
	"github.com/hps-svt/tracker/pkg/web"
)

func main() {
	var (
		configPath string
		listenAddr string
		dbPath     string
		dataDir    string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides server.http_addr)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")
	flag.StringVar(&dataDir, "data-dir", "", "Data directory (overrides data_dir)")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr != "" {
		cfg.Server.HTTPAddr = listenAddr
	}
	if dbPath != "" {
		cfg.Database.Type = "sqlite"
		cfg.Database.Path = dbPath
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		glog.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close(gdb) }()
	if err := db.Migrate(gdb); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		glog.Fatalf("Failed to create data directory: %v", err)
	}

	store := inventory.NewStore(gdb, cfg.DataDir, inventory.WithLogger(logger))
	auditStore := audit.NewStore(gdb)
	auditCfg := audit.FromConfig(cfg.Audit)
	cacheManager := cache.NewCacheManager(cache.FromConfig(cfg.Cache))
	serverOpts := []web.ServerOption{
		web.WithAudit(auditStore, auditCfg),
		web.WithCacheManager(cacheManager),
	}

	var background sync.WaitGroup
	goBackground := func(fn func()) {
		background.Add(1)
		go func() {
			defer background.Done()
			fn()
		}()
	}

	// Edge image analysis needs tesseract; without it uploads are refused
	// and the queue is left alone.
	jobCfg := jobs.FromConfig(cfg.Jobs)
	if jobCfg.Enabled {
		extractor := ingest.NewTesseractExtractor(cfg.OCR)
		if extractor.Available() {
			jobStore := jobs.NewJobStore(gdb)
			analyzer := &ingest.OCRAnalyzer{Extractor: extractor, Logger: logger}
			// Recorded tests change the edge imaging plots and stats outside
			// any HTTP request, so drop cached responses here as well.
			pool := jobs.NewWorkerPool(jobStore, analyzer, store, jobCfg, logger.Named("jobs"),
				jobs.WithStagingDir(web.EdgeUploadDir(cfg.DataDir)),
				jobs.WithFinishHook(func(_ *jobs.AnalysisJob, state jobs.JobState) {
					if state == jobs.JobStateSucceeded {
						cacheManager.InvalidateAll()
					}
				}))
			goBackground(func() { pool.Run(ctx) })
			serverOpts = append(serverOpts, web.WithJobStore(jobStore))
		} else {
			logger.Warn("tesseract not found, edge image analysis disabled", zap.String("path", extractor.Path))
		}
	}

	if auditCfg.Enabled {
		retention := audit.NewRetentionWorker(auditStore, auditCfg.Retention, auditCfg.Interval, logger.Named("audit"))
		goBackground(func() { retention.Run(ctx) })
	}

	backups, err := backup.FromConfig(ctx, cfg.Backup, gdb, logger.Named("backup"))
	if err != nil {
		glog.Fatalf("Failed to schedule backups: %v", err)
	}
	if backups != nil {
		backups.Start()
		defer backups.Stop()
	}

	goBackground(func() {
		metrics.RefreshComponents(ctx, componentCounts(store), time.Minute, func(err error) {
			logger.Warn("refresh component metrics", zap.Error(err))
		})
	})

	server, err := web.NewServer(store, cfg.Server, logger, serverOpts...)
	if err != nil {
		glog.Fatalf("Failed to create server: %v", err)
	}
	router := server.MountRoutes()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("svt tracker ready",
		zap.String("listen", cfg.Server.HTTPAddr),
		zap.String("database", cfg.Database.Type),
		zap.String("dataDir", cfg.DataDir))

	// Wait for shutdown signal
	<-ctx.Done()

	logger.Info("shutting down...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("background workers did not stop in time")
	}

	logger.Info("svt tracker stopped")
}

func componentCounts(store *inventory.Store) metrics.StatusSource {
	return func(ctx context.Context) ([]metrics.StatusCount, error) {
		counts, err := store.CountsByStatus(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]metrics.StatusCount, 0, len(counts))
		for _, c := range counts {
			out = append(out, metrics.StatusCount{Status: c.Key, Count: c.Count})
		}
		return out, nil
	}
}
