package audit

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActorHeader carries the operator name set by the lab's reverse proxy.
const ActorHeader = "X-Remote-User"

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Flush lets streaming handlers work behind the audit wrapper.
func (rc *responseCapture) Flush() {
	if f, ok := rc.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records a RequestEvent for every mutating request once the
// handler has completed.
func Middleware(store *Store, cfg *AuditConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil || !isAudited(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)

			ctx := r.Context()
			actor := r.Header.Get(ActorHeader)
			if actor == "" {
				actor = "anonymous"
			}
			requestID := middleware.GetReqID(ctx)
			resourceType, resourceID := extractResource(r.URL.Path)

			event := &RequestEvent{
				ID:           uuid.New().String(),
				Actor:        actor,
				Method:       r.Method,
				Path:         r.URL.Path,
				Action:       extractActionVerb(r.Method, r.URL.Path),
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Outcome:      outcomeFromStatus(capture.statusCode),
				StatusCode:   capture.statusCode,
				RequestID:    requestID,
				DurationMs:   time.Since(startTime).Milliseconds(),
				CreatedAt:    startTime.UTC(),
			}

			// The response has already been sent; a failed write is only logged.
			if err := store.Append(ctx, event); err != nil {
				logger.Error("failed to write audit event", zap.Error(err), zap.String("requestID", requestID))
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes. Redirects
// count as success because the HTML forms answer with 303 See Other.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 400:
		return "success"
	case code == http.StatusForbidden:
		return "denied"
	default:
		return "failure"
	}
}
