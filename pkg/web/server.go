// Package web serves the tracker dashboard, the JSON API and stored files.
package web

import (
	"context"
	"crypto/sha256"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/hps-svt/tracker/pkg/audit"
	"github.com/hps-svt/tracker/pkg/cache"
	"github.com/hps-svt/tracker/pkg/config"
	"github.com/hps-svt/tracker/pkg/inventory"
	"github.com/hps-svt/tracker/pkg/jobs"
	"github.com/hps-svt/tracker/pkg/metrics"
)

// APIBase is where the JSON API is mounted.
const APIBase = "/api/v1"

// Server hosts the dashboard and API for one inventory store.
type Server struct {
	store        *inventory.Store
	cfg          config.ServerConfig
	logger       *zap.Logger
	jobStore     *jobs.JobStore
	auditStore   *audit.Store
	auditConfig  *audit.AuditConfig
	cacheManager *cache.CacheManager
	sessions     sessions.Store
	pages        map[string]*template.Template
	startedAt    time.Time
	router       chi.Router
}

// ServerOption configures optional Server dependencies.
type ServerOption func(*Server)

// WithJobStore enables edge image analysis uploads and the jobs API.
func WithJobStore(js *jobs.JobStore) ServerOption {
	return func(s *Server) { s.jobStore = js }
}

// WithAudit records write requests and mounts the audit API.
func WithAudit(store *audit.Store, cfg *audit.AuditConfig) ServerOption {
	return func(s *Server) {
		s.auditStore = store
		s.auditConfig = cfg
	}
}

// WithCacheManager caches report images and stats.
func WithCacheManager(cm *cache.CacheManager) ServerOption {
	return func(s *Server) { s.cacheManager = cm }
}

// WithSessionStore replaces the cookie store used for flash messages.
func WithSessionStore(st sessions.Store) ServerOption {
	return func(s *Server) { s.sessions = st }
}

// NewServer builds a server. Page templates are parsed here so a broken
// template fails at startup.
func NewServer(store *inventory.Store, cfg config.ServerConfig, logger *zap.Logger, opts ...ServerOption) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	s := &Server{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = newCookieStore(cfg.SessionKey)
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s.pages = pages
	return s, nil
}

func newCookieStore(secret string) *sessions.CookieStore {
	if secret == "" {
		// Flashes only need to survive one redirect, so a per-process key is enough.
		secret = uuid.NewString()
	}
	key := sha256.Sum256([]byte(secret))
	st := sessions.NewCookieStore(key[:])
	st.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return st
}

// MountRoutes creates the HTTP router.
func (s *Server) MountRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token", audit.ActorHeader},
		ExposedHeaders:   []string{"Link", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.auditStore != nil && s.auditConfig != nil && s.auditConfig.Enabled {
		r.Use(audit.Middleware(s.auditStore, s.auditConfig, s.logger))
		s.logger.Info("audit middleware enabled", zap.Duration("retention", s.auditConfig.Retention))
	}
	if s.cacheManager != nil {
		r.Use(s.cacheManager.InvalidateOnWrite)
	}

	// Pages
	r.Get("/", s.dashboardPage)
	r.Get("/components", s.componentsPage)
	r.Get("/components/{id}", s.componentPage)
	r.Post("/components/{id}/install", s.installForm)
	r.Post("/components/{id}/remove", s.removeForm)
	r.Post("/components/{id}/log", s.logForm)
	r.Get("/tests/{testId}", s.testPage)
	r.Get("/upload/picture", s.pictureForm)
	r.Post("/upload/picture", s.uploadPicture)
	r.Post("/upload/edge-image", s.uploadEdgeImage)
	r.Get("/reports/edge-imaging", s.edgeImagingPage)
	r.With(s.cacheManager.ReportsMiddleware()).Get("/reports/{name}.png", s.reportImage)
	r.Get("/files/*", s.serveFile)

	r.Route(APIBase, func(r chi.Router) {
		s.mountAPI(r)
		if s.jobStore != nil {
			r.Mount("/jobs", jobs.Router(s.jobStore))
		}
		if s.auditStore != nil {
			r.Mount("/audit", audit.Router(s.auditStore))
		}
	})

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return r
}

// Router returns the router built by MountRoutes.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
