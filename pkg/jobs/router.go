package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the job status API.
func Router(store *JobStore) chi.Router {
	r := chi.NewRouter()
	r.Get("/", ListJobsHandler(store))
	r.Get("/{jobId}", GetJobHandler(store))
	r.Post("/{jobId}/cancel", CancelJobHandler(store))
	return r
}
