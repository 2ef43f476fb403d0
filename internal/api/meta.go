package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// handleMetaSnapshot returns every installed conversion rule.
//
// The snapshot is a point-in-time copy; rules installed or replaced
// after the call do not appear in it.
func (s *Server) handleMetaSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.store.Snapshot()

	paths := make([]string, 0, len(snapshot))
	for path := range snapshot {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	rules := make([]any, 0, len(paths))
	for _, path := range paths {
		rules = append(rules, snapshot[path])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// handleGetMeta returns the conversion rule for one path.
func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	if path == "" || len(path) > maxQueryParamLen {
		writeBadRequest(w, "invalid path")
		return
	}

	rule := s.store.Get(path)
	if rule == nil {
		writeNotFound(w, "no conversion metadata for path")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}
