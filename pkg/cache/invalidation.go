package cache

import (
	"net/http"
)

// CacheManager holds separate cache instances for report plots and
// dashboard statistics. Every write to the inventory can change either, so
// invalidation always clears both.
type CacheManager struct {
	reports *LRUCache
	stats   *LRUCache
}

// NewCacheManager creates a CacheManager from the given configuration.
// If cfg is nil or disabled, it returns nil; a nil manager passes every
// request through uncached.
func NewCacheManager(cfg *CacheConfig) *CacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &CacheManager{
		reports: NewLRUCache(cfg.MaxSize, cfg.TTL),
		stats:   NewLRUCache(cfg.MaxSize, cfg.TTL),
	}
}

// InvalidateAll clears both caches entirely.
func (cm *CacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.reports.InvalidateAll()
	cm.stats.InvalidateAll()
}

// ReportsMiddleware caches rendered plot PNGs.
func (cm *CacheManager) ReportsMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passThrough
	}
	return Middleware(cm.reports)
}

// StatsMiddleware caches /api/v1/stats responses.
func (cm *CacheManager) StatsMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passThrough
	}
	return Middleware(cm.stats)
}

// InvalidateOnWrite clears every cache after a mutating request that
// completed with a 2xx or 3xx status.
func (cm *CacheManager) InvalidateOnWrite(next http.Handler) http.Handler {
	if cm == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status < 400 {
			cm.InvalidateAll()
		}
	})
}

func passThrough(next http.Handler) http.Handler { return next }
