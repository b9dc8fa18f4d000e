package cache

import (
	"bytes"
	"net/http"
	"strings"
)

// recorder tracks the status a handler wrote and, when keep is set, a copy
// of the body.
type recorder struct {
	http.ResponseWriter
	status int
	keep   bool
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	if r.keep {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

// Key identifies a cached response: the path plus the query with its
// parameters sorted, so ?days=7&type=sensor and ?type=sensor&days=7 share
// an entry.
func Key(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.Query().Encode()
}

// Middleware serves GET and HEAD requests from c. A miss runs the handler
// and stores a 200 response together with its Content-Type unless the
// handler set Cache-Control: no-store. Responses carry X-Cache: HIT or MISS.
// A nil cache disables caching.
func Middleware(c *LRUCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			key := Key(r)
			if hit, ok := c.Get(key); ok {
				if hit.ContentType != "" {
					w.Header().Set("Content-Type", hit.ContentType)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				if r.Method == http.MethodGet {
					_, _ = w.Write(hit.Body)
				}
				return
			}

			w.Header().Set("X-Cache", "MISS")
			if r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			rec := &recorder{ResponseWriter: w, keep: true}
			next.ServeHTTP(rec, r)
			if rec.status != http.StatusOK || strings.Contains(rec.Header().Get("Cache-Control"), "no-store") {
				return
			}
			c.Set(key, Entry{
				Body:        append([]byte(nil), rec.body.Bytes()...),
				ContentType: rec.Header().Get("Content-Type"),
			})
		})
	}
}
