package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/readyz":
			w.Write([]byte(`{"status":"ready"}`))
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","reason":"database is locked"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		args    []string
		code    int
		wantErr string
	}{
		{"ready", []string{srv.URL + "/readyz"}, 0, ""},
		{"not ready with reason", []string{srv.URL + "/down"}, 1, "status 503: database is locked"},
		{"not found", []string{srv.URL + "/missing"}, 1, "status 404"},
		{"too many args", []string{"a", "b"}, 1, "usage"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, tc.code, run(tc.args, &stderr))
			assert.Contains(t, stderr.String(), tc.wantErr)
		})
	}
}

func TestReadyURL(t *testing.T) {
	tests := []struct{ addr, want string }{
		{":5000", "http://localhost:5000/readyz"},
		{"0.0.0.0:8080", "http://localhost:8080/readyz"},
		{"10.0.0.5:80", "http://10.0.0.5:80/readyz"},
		{"[::]:5000", "http://localhost:5000/readyz"},
		{"svt.lab", "http://svt.lab/readyz"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, readyURL(tc.addr), tc.addr)
	}
}
