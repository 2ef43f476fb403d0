package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halyard-io/pelorus/internal/audit"
	"github.com/halyard-io/pelorus/internal/dashboard"
)

// handleListDashboards returns all dashboards in display order.
func (s *Server) handleListDashboards(w http.ResponseWriter, r *http.Request) {
	if s.dashboards == nil {
		writeServiceUnavailable(w, "dashboard storage not configured")
		return
	}

	dashboards, err := s.dashboards.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list dashboards", "error", err)
		writeInternalError(w, "failed to list dashboards")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dashboards": dashboards,
		"count":      len(dashboards),
	})
}

// handleGetDashboard returns a single dashboard by ID or slug.
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	if s.dashboards == nil {
		writeServiceUnavailable(w, "dashboard storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid dashboard ID")
		return
	}

	dash, err := s.dashboards.Get(r.Context(), id)
	if errors.Is(err, dashboard.ErrDashboardNotFound) {
		// Panel clients navigate by slug; fall back before giving up.
		dash, err = s.dashboards.GetBySlug(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, dashboard.ErrDashboardNotFound) {
			writeNotFound(w, "dashboard not found")
			return
		}
		writeInternalError(w, "failed to get dashboard")
		return
	}

	writeJSON(w, http.StatusOK, dash)
}

// handleCreateDashboard creates a new dashboard layout.
//
// The raw body is validated against the dashboard JSON Schema before
// decoding, so unknown fields and out-of-range values are rejected with
// a specific message rather than silently dropped by the decoder.
func (s *Server) handleCreateDashboard(w http.ResponseWriter, r *http.Request) {
	if s.dashboards == nil {
		writeServiceUnavailable(w, "dashboard storage not configured")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	if err := dashboard.ValidateDocument(body); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	var dash dashboard.Dashboard
	if err := json.Unmarshal(body, &dash); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.dashboards.Create(r.Context(), &dash); err != nil {
		s.writeDashboardError(w, err, "failed to create dashboard")
		return
	}

	s.auditLog(audit.ActionDashboardCreate, "dashboard", dash.ID, audit.SourceAPI, map[string]any{
		"name": dash.Name,
		"slug": dash.Slug,
	})

	writeJSON(w, http.StatusCreated, dash)
}

// handleUpdateDashboard replaces an existing dashboard layout.
func (s *Server) handleUpdateDashboard(w http.ResponseWriter, r *http.Request) {
	if s.dashboards == nil {
		writeServiceUnavailable(w, "dashboard storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid dashboard ID")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	if err := dashboard.ValidateDocument(body); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	var dash dashboard.Dashboard
	if err := json.Unmarshal(body, &dash); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// The URL is authoritative for identity; a mismatched body ID is a
	// client error rather than a silent rename.
	if dash.ID == "" {
		dash.ID = id
	} else if dash.ID != id {
		writeBadRequest(w, "dashboard ID in body does not match URL")
		return
	}

	if err := s.dashboards.Update(r.Context(), &dash); err != nil {
		s.writeDashboardError(w, err, "failed to update dashboard")
		return
	}

	s.auditLog(audit.ActionDashboardUpdate, "dashboard", dash.ID, audit.SourceAPI, map[string]any{
		"name": dash.Name,
		"slug": dash.Slug,
	})

	writeJSON(w, http.StatusOK, dash)
}

// handleDeleteDashboard removes a dashboard layout.
func (s *Server) handleDeleteDashboard(w http.ResponseWriter, r *http.Request) {
	if s.dashboards == nil {
		writeServiceUnavailable(w, "dashboard storage not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid dashboard ID")
		return
	}

	if err := s.dashboards.Delete(r.Context(), id); err != nil {
		if errors.Is(err, dashboard.ErrDashboardNotFound) {
			writeNotFound(w, "dashboard not found")
			return
		}
		s.logger.Error("failed to delete dashboard", "id", id, "error", err)
		writeInternalError(w, "failed to delete dashboard")
		return
	}

	s.auditLog(audit.ActionDashboardDelete, "dashboard", id, audit.SourceAPI, nil)

	w.WriteHeader(http.StatusNoContent)
}

// writeDashboardError maps dashboard registry errors to HTTP responses.
func (s *Server) writeDashboardError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, dashboard.ErrInvalidDashboard),
		errors.Is(err, dashboard.ErrInvalidWidget),
		errors.Is(err, dashboard.ErrInvalidName),
		errors.Is(err, dashboard.ErrInvalidSlug):
		writeValidationError(w, err.Error())
	case errors.Is(err, dashboard.ErrDashboardExists):
		writeConflict(w, "a dashboard with this slug already exists")
	case errors.Is(err, dashboard.ErrDashboardNotFound):
		writeNotFound(w, "dashboard not found")
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}
