package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEvents(t *testing.T, store *Store) []RequestEvent {
	t.Helper()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []RequestEvent{
		{ID: "ev-1", Actor: "alice", Method: "POST", Path: "/api/v1/components", Action: "create", ResourceType: "component", Outcome: "success", StatusCode: 201, CreatedAt: base},
		{ID: "ev-2", Actor: "bob", Method: "POST", Path: "/api/v1/components/M-1/install", Action: "install", ResourceType: "component", ResourceID: "M-1", Outcome: "failure", StatusCode: 409, CreatedAt: base.Add(time.Minute)},
		{ID: "ev-3", Actor: "alice", Method: "DELETE", Path: "/api/v1/tests/4", Action: "delete", ResourceType: "test", ResourceID: "4", Outcome: "success", StatusCode: 200, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range events {
		require.NoError(t, store.Append(context.Background(), &events[i]))
	}
	return events
}

func TestListEventsHandler(t *testing.T) {
	store := setupTestStore(t)
	seedEvents(t, store)
	r := Router(store)

	tests := []struct {
		name    string
		query   string
		wantIDs []string
		total   int
	}{
		{"all newest first", "", []string{"ev-3", "ev-2", "ev-1"}, 3},
		{"by actor", "?actor=alice", []string{"ev-3", "ev-1"}, 2},
		{"by resource", "?resourceType=component&resourceId=M-1", []string{"ev-2"}, 1},
		{"by outcome", "?outcome=failure", []string{"ev-2"}, 1},
		{"paged", "?pageSize=2", []string{"ev-3", "ev-2"}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events"+tc.query, nil))
			require.Equal(t, http.StatusOK, w.Code)

			var resp struct {
				Events    []eventResponse `json:"events"`
				TotalSize int             `json:"totalSize"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			var ids []string
			for _, ev := range resp.Events {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tc.wantIDs, ids)
			assert.Equal(t, tc.total, resp.TotalSize)
		})
	}
}

func TestListEventsHandler_Paging(t *testing.T) {
	store := setupTestStore(t)
	seedEvents(t, store)

	page, next, _, err := store.List(context.Background(), ListFilter{}, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotEmpty(t, next)

	rest, next, _, err := store.List(context.Background(), ListFilter{}, 2, next)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "ev-1", rest[0].ID)
	assert.Empty(t, next)

	w := httptest.NewRecorder()
	Router(store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events?pageToken=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEventHandler(t *testing.T) {
	store := setupTestStore(t)
	seedEvents(t, store)
	r := Router(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/ev-2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp eventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bob", resp.Actor)
	assert.Equal(t, "M-1", resp.ResourceID)
	assert.Equal(t, "2025-03-01T09:01:00Z", resp.CreatedAt)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
