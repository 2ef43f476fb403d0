package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halyard-io/pelorus/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Panel UI (embedded static build, or s.panelDir in dev mode)
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.panelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required; login is rate limited)
		r.Post("/auth/login", s.handleLogin)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket upgrade cannot carry an Authorization header from a
		// browser, so it sits outside the token group; the handler
		// validates the single-use ticket instead.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires a valid session token
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// System status
			r.Get("/status", s.handleStatus)

			// Resolved values
			r.Route("/values", func(r chi.Router) {
				r.Get("/", s.handleListValues)
				r.Get("/{path}", s.handleGetValue)
				r.Put("/{path}", s.handlePutValue)
			})

			// Unit metadata
			r.Route("/meta", func(r chi.Router) {
				r.Get("/", s.handleMetaSnapshot)
				r.Get("/{path}", s.handleGetMeta)
			})

			// Dashboard layouts
			r.Route("/dashboards", func(r chi.Router) {
				r.Get("/", s.handleListDashboards)
				r.Post("/", s.handleCreateDashboard)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDashboard)
					r.Put("/", s.handleUpdateDashboard)
					r.Delete("/", s.handleDeleteDashboard)
				})
			})

			// Sample history
			r.Route("/history", func(r chi.Router) {
				r.Get("/{path}", s.handleGetHistory)
				r.Get("/{path}/range", s.handleGetHistoryRange)
			})

			// Audit trail
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
