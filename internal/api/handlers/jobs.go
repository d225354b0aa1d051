package handlers

import (
	"net/http"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/rs/zerolog"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}. Jobs of another organization are
// reported as missing.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get job")
		return
	}
	if org := middleware.OrganizationID(ctx); org != "" && job.OrganizationID != "" && job.OrganizationID != org {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := jobs.JobFilter{
		OrganizationID: query.Get("organization_id"),
		Trigger:        jobs.Trigger(query.Get("trigger")),
		Status:         jobs.JobStatus(query.Get("status")),
		Limit:          limit,
		Offset:         offset,
	}
	if org := middleware.OrganizationID(ctx); org != "" {
		filter.OrganizationID = org
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.RecurrenceRunJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
