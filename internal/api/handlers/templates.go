package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/domain"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/rs/zerolog"
)

const defaultPreviewCount = 5

// TemplatesHandler handles recurring expense template endpoints.
type TemplatesHandler struct {
	svc *templates.Service
	log zerolog.Logger
}

// NewTemplatesHandler creates a new templates handler.
func NewTemplatesHandler(svc *templates.Service, log zerolog.Logger) *TemplatesHandler {
	return &TemplatesHandler{svc: svc, log: log}
}

// ListTemplates handles GET /api/recurring-expenses
func (h *TemplatesHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}

	items, err := h.svc.List(r.Context(), storage.TemplateFilter{
		OrganizationID: org,
		Status:         domain.TemplateStatus(r.URL.Query().Get("status")),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list recurring expenses")
		return
	}
	if items == nil {
		items = []*domain.RecurringTemplate{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"templates": items,
		"count":     len(items),
	})
}

// CreateTemplate handles POST /api/recurring-expenses
func (h *TemplatesHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}

	var in templates.CreateInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	in.OrganizationID = org
	in.CreatedBy = middleware.UserID(r.Context())

	t, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create recurring expense")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, t)
}

// GetTemplate handles GET /api/recurring-expenses/{id}
func (h *TemplatesHandler) GetTemplate(w http.ResponseWriter, r *http.Request, id string) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}

	t, err := h.svc.Get(r.Context(), org, id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get recurring expense")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, t)
}

// UpdateTemplate handles PATCH /api/recurring-expenses/{id}
func (h *TemplatesHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request, id string) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}

	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := h.svc.Update(r.Context(), org, id, patch)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update recurring expense")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /api/recurring-expenses/{id}. The template is
// ended, not removed.
func (h *TemplatesHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request, id string) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), org, id); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete recurring expense")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewTemplate handles GET /api/recurring-expenses/{id}/preview?count=n
func (h *TemplatesHandler) PreviewTemplate(w http.ResponseWriter, r *http.Request, id string) {
	org, ok := requireOrganization(w, r)
	if !ok {
		return
	}
	count, ok := queryInt(r, "count", defaultPreviewCount)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid count")
		return
	}

	dates, err := h.svc.Preview(r.Context(), org, id, count)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to preview recurring expense")
		return
	}
	if dates == nil {
		dates = []time.Time{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"templateId":  id,
		"occurrences": dates,
	})
}
