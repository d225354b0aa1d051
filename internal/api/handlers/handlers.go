// Package handlers implements the HTTP endpoints of the recurring expense API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Financial-Management-System/FMS-sub000/internal/api/middleware"
	"github.com/Financial-Management-System/FMS-sub000/internal/jobs"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/Financial-Management-System/FMS-sub000/internal/templates"
	"github.com/rs/zerolog"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// writeServiceError maps domain errors to HTTP statuses. Unclassified errors
// are logged and reported as msg with a 500.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	switch {
	case templates.IsValidation(err):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrDuplicate):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

// requireOrganization returns the tenant organization or writes a 400.
func requireOrganization(w http.ResponseWriter, r *http.Request) (string, bool) {
	org := middleware.OrganizationID(r.Context())
	if org == "" {
		middleware.WriteError(w, http.StatusBadRequest, middleware.HeaderOrganizationID+" header is required")
		return "", false
	}
	return org, true
}

// queryInt parses a non-negative integer query parameter. Missing yields def.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// pageParams reads limit and offset, capping limit at maxPageLimit.
func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	if limit, ok = queryInt(r, "limit", defaultPageLimit); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return 0, 0, false
	}
	if offset, ok = queryInt(r, "offset", 0); !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
		return 0, 0, false
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, offset, true
}
