package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/app"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxRunBodyBytes = 1 << 16

// RunsHandler executes recurrence runs on request.
type RunsHandler struct {
	runner   app.Runner
	archiver app.ReportArchiver
	jobs     jobs.JobStore
	log      zerolog.Logger
	now      func() time.Time
}

// NewRunsHandler creates a new runs handler. archiver may be nil.
func NewRunsHandler(runner app.Runner, archiver app.ReportArchiver, store jobs.JobStore, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		runner:   runner,
		archiver: archiver,
		jobs:     store,
		log:      log,
		now:      time.Now,
	}
}

type runRequest struct {
	Now            *templates.Date `json:"now,omitempty"`
	OrganizationID string          `json:"organizationId,omitempty"`
	Limit          int             `json:"limit,omitempty"`
}

type runResponse struct {
	JobID     string `json:"jobId"`
	ReportURI string `json:"reportUri,omitempty"`
	recurrence.RunResult
}

// runFailureResponse carries the work committed before the run aborted.
type runFailureResponse struct {
	Error string `json:"error"`
	runResponse
}

// TriggerRun handles POST /api/recurring-runs.
//
// The body is optional. A request carrying X-Organization-ID is confined to
// that organization.
func (h *RunsHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req runRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRunBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Limit < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}

	org := strings.TrimSpace(req.OrganizationID)
	if tenant := middleware.OrganizationID(ctx); tenant != "" {
		if org != "" && org != tenant {
			middleware.WriteError(w, http.StatusForbidden, "organizationId does not match "+middleware.HeaderOrganizationID)
			return
		}
		org = tenant
	}

	started := h.now().UTC()
	job := &jobs.RecurrenceRunJob{
		JobID:          uuid.New().String(),
		Trigger:        jobs.TriggerAPI,
		OrganizationID: org,
		Limit:          req.Limit,
		Status:         jobs.JobStatusRunning,
		CreatedAt:      started,
		StartedAt:      &started,
	}
	if req.Now != nil {
		job.Now = req.Now.Time.UTC()
	}
	h.saveJob(r, job)

	res, err := app.ExecuteRun(ctx, h.runner, h.archiver, job, h.log)

	completed := h.now().UTC()
	job.CompletedAt = &completed
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		h.saveJob(r, job)
		h.log.Error().Err(err).Str("job_id", job.JobID).Msg("Recurrence run failed")
		middleware.WriteJSON(w, http.StatusInternalServerError, runFailureResponse{
			Error: "Recurrence run failed",
			runResponse: runResponse{
				JobID:     job.JobID,
				ReportURI: job.ReportURI,
				RunResult: res,
			},
		})
		return
	}
	job.Status = jobs.JobStatusCompleted
	h.saveJob(r, job)

	middleware.WriteJSON(w, http.StatusOK, runResponse{
		JobID:     job.JobID,
		ReportURI: job.ReportURI,
		RunResult: res,
	})
}

func (h *RunsHandler) saveJob(r *http.Request, job *jobs.RecurrenceRunJob) {
	if h.jobs == nil {
		return
	}
	if err := h.jobs.SaveJob(r.Context(), job); err != nil {
		h.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record run job")
	}
}
