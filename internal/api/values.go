package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/halyard-io/pelorus/internal/audit"
	"github.com/halyard-io/pelorus/internal/bridges/signalk"
)

// putValueRequest is the request body for PUT /values/{path}.
//
// When Display is true the value is taken to be in the path's display
// unit and is converted back to SI before forwarding; the default is SI
// passthrough, matching what the upstream expects on the wire.
type putValueRequest struct {
	Value   any  `json:"value"`
	Display bool `json:"display"`
}

// handleListValues returns the resolved reading for every cached path.
//
// Query parameters:
//   - fresh: when "true", only paths with a sample inside the freshness
//     window are returned
func (s *Server) handleListValues(w http.ResponseWriter, r *http.Request) {
	freshOnly := r.URL.Query().Get("fresh") == "true"

	paths := s.cache.Paths()
	sort.Strings(paths)

	readings := make([]any, 0, len(paths))
	for _, path := range paths {
		reading := s.resolver.Reading(path, "")
		if freshOnly && !reading.Fresh {
			continue
		}
		readings = append(readings, reading)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"values": readings,
		"count":  len(readings),
	})
}

// handleGetValue returns the resolved reading for one path.
//
// Query parameters:
//   - source: resolve a specific source instead of the latest one
//   - sources: when "true", include a per-source breakdown
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxQueryParamLen {
		writeBadRequest(w, "invalid path")
		return
	}

	source := r.URL.Query().Get("source")
	if len(source) > maxQueryParamLen {
		writeBadRequest(w, "source exceeds maximum length")
		return
	}

	// A path is known when it has either a cached sample or a conversion
	// rule. Neither means the server has never mentioned it.
	_, known := s.cache.Get(path, source)
	if !known && s.store.Get(path) == nil {
		writeNotFound(w, "no data or metadata for path")
		return
	}

	reading := s.resolver.Reading(path, source)

	if r.URL.Query().Get("sources") == "true" {
		sources := s.cache.SourcesFor(path)
		sort.Strings(sources)
		perSource := make(map[string]any, len(sources))
		for _, src := range sources {
			perSource[src] = s.resolver.Reading(path, src)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reading": reading,
			"sources": perSource,
		})
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// handlePutValue forwards a write command to the upstream server.
//
// Numeric display-unit values are converted back to SI through the
// path's conversion rule before the PUT is issued; everything else is
// forwarded as-is. The upstream's response decides the HTTP status.
func (s *Server) handlePutValue(w http.ResponseWriter, r *http.Request) {
	if s.upstream == nil {
		writeServiceUnavailable(w, "upstream connection not configured")
		return
	}

	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxQueryParamLen {
		writeBadRequest(w, "invalid path")
		return
	}

	var req putValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	value := req.Value
	if req.Display {
		display, ok := value.(float64)
		if !ok {
			writeBadRequest(w, "display conversion requires a numeric value")
			return
		}
		value = s.resolver.SIForCommand(path, display)
	}

	err := s.upstream.Put(r.Context(), path, value)

	claims := claimsFromContext(r.Context())
	subject := ""
	if claims != nil {
		subject = claims.Subject
	}
	details := map[string]any{
		"value":   value,
		"display": req.Display,
		"user":    subject,
	}
	if err != nil {
		details["error"] = err.Error()
	}
	s.auditLog(audit.ActionCommand, "path", path, audit.SourceAPI, details)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"path":   path,
			"value":  value,
		})
	case errors.Is(err, signalk.ErrNotConnected):
		writeServiceUnavailable(w, "upstream server not connected")
	case errors.Is(err, signalk.ErrRequestTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "upstream did not answer in time")
	case errors.Is(err, signalk.ErrPutRejected):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	default:
		s.logger.Error("command forward failed", "path", path, "error", err)
		writeInternalError(w, "failed to forward command")
	}
}
