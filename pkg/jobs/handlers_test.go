package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJobHandler_Found(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	job, err := store.Enqueue(context.Background(), newTestJob("S-1"))
	require.NoError(t, err)

	r := Router(store)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+job.ID, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp jobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.ID)
	assert.Equal(t, "S-1", resp.ComponentID)
	assert.Equal(t, "queued", resp.State)
	assert.Empty(t, resp.StartedAt)
}

func TestGetJobHandler_NotFound(t *testing.T) {
	r := Router(NewJobStore(setupTestDB(t)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "missing")
}

func TestListJobsHandler(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := context.Background()
	for _, comp := range []string{"S-1", "S-2"} {
		_, err := store.Enqueue(ctx, newTestJob(comp))
		require.NoError(t, err)
	}

	r := Router(store)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?componentId=S-2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs      []jobResponse `json:"jobs"`
		TotalSize int           `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalSize)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "S-2", resp.Jobs[0].ComponentID)
}

func TestCancelJobHandler(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := context.Background()
	queued, err := store.Enqueue(ctx, newTestJob("S-1"))
	require.NoError(t, err)

	r := Router(store)

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"queued job", queued.ID, http.StatusOK},
		{"already canceled", queued.ID, http.StatusConflict},
		{"unknown job", "nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/"+tc.id+"/cancel", nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
