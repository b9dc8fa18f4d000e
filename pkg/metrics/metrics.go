// Package metrics holds the tracker's Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequests counts served requests.
	// Labels: route (chi route pattern), method, code
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svt",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "svt",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// testsRecorded counts stored test results by test type.
	testsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svt",
		Name:      "tests_recorded_total",
		Help:      "Test results recorded by test type",
	}, []string{"type"})

	// jobsProcessed counts finished analysis job attempts.
	// Labels: outcome (succeeded, retried, failed)
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "svt",
		Name:      "jobs_processed_total",
		Help:      "Analysis job attempts by outcome",
	}, []string{"outcome"})

	components = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "svt",
		Name:      "components",
		Help:      "Components per installation status",
	}, []string{"status"})
)

// TestRecorded increments the recorded-tests counter.
func TestRecorded(testType string) {
	testsRecorded.WithLabelValues(testType).Inc()
}

// JobProcessed increments the job outcome counter.
func JobProcessed(outcome string) {
	jobsProcessed.WithLabelValues(outcome).Inc()
}

// StatusCount is one status/count pair for the components gauge.
type StatusCount struct {
	Status string
	Count  int64
}

// SetComponents replaces the per-status component gauge.
func SetComponents(counts []StatusCount) {
	components.Reset()
	for _, c := range counts {
		components.WithLabelValues(c.Status).Set(float64(c.Count))
	}
}

// StatusSource supplies per-status component counts.
type StatusSource func(ctx context.Context) ([]StatusCount, error)

// RefreshComponents polls src every interval until ctx is done.
func RefreshComponents(ctx context.Context, src StatusSource, interval time.Duration, onErr func(error)) {
	refresh := func() {
		counts, err := src(ctx)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		SetComponents(counts)
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
