package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG" + r.URL.Path))
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMiddleware_HitAfterMiss(t *testing.T) {
	calls := 0
	h := Middleware(NewLRUCache(10, time.Minute))(pngHandler(&calls))

	first := serve(h, http.MethodGet, "/reports/leakage-current.png")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(h, http.MethodGet, "/reports/leakage-current.png")
	assert.Equal(t, 1, calls)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "image/png", second.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG/reports/leakage-current.png", second.Body.String())
}

func TestMiddleware_HandlerCalls(t *testing.T) {
	failing := func(calls *int) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*calls++
			http.Error(w, "boom", http.StatusInternalServerError)
		})
	}
	noStore := func(calls *int) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*calls++
			w.Header().Set("Cache-Control", "no-store")
			_, _ = w.Write([]byte("{}"))
		})
	}

	tests := []struct {
		name    string
		handler func(*int) http.Handler
		method  string
		targets []string
		want    int
	}{
		{"post passes through", pngHandler, http.MethodPost, []string{"/api/v1/stats", "/api/v1/stats"}, 2},
		{"errors are not cached", failing, http.MethodGet, []string{"/api/v1/stats", "/api/v1/stats"}, 2},
		{"no-store is not cached", noStore, http.MethodGet, []string{"/api/v1/stats", "/api/v1/stats"}, 2},
		{"queries cached separately", pngHandler, http.MethodGet,
			[]string{"/api/v1/stats?days=7", "/api/v1/stats?days=30", "/api/v1/stats?days=7"}, 2},
		{"query order ignored", pngHandler, http.MethodGet,
			[]string{"/api/v1/stats?days=7&type=sensor", "/api/v1/stats?type=sensor&days=7"}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			h := Middleware(NewLRUCache(10, time.Minute))(tc.handler(&calls))
			for _, target := range tc.targets {
				serve(h, tc.method, target)
			}
			assert.Equal(t, tc.want, calls)
		})
	}
}

func TestMiddleware_Head(t *testing.T) {
	calls := 0
	h := Middleware(NewLRUCache(10, time.Minute))(pngHandler(&calls))

	// HEAD on a miss does not populate the cache.
	serve(h, http.MethodHead, "/reports/cleaving-distance.png")
	serve(h, http.MethodGet, "/reports/cleaving-distance.png")
	require.Equal(t, 2, calls)

	rec := serve(h, http.MethodHead, "/reports/cleaving-distance.png")
	assert.Equal(t, 2, calls)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}

func TestMiddleware_NilCache(t *testing.T) {
	calls := 0
	h := Middleware(nil)(pngHandler(&calls))
	serve(h, http.MethodGet, "/x.png")
	rec := serve(h, http.MethodGet, "/x.png")
	assert.Equal(t, 2, calls)
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestKey(t *testing.T) {
	tests := []struct{ target, want string }{
		{"/api/v1/stats", "/api/v1/stats"},
		{"/api/v1/stats?days=7", "/api/v1/stats?days=7"},
		{"/api/v1/stats?type=sensor&days=7", "/api/v1/stats?days=7&type=sensor"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Key(httptest.NewRequest(http.MethodGet, tc.target, nil)), tc.target)
	}
}
