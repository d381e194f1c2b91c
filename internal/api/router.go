package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Radio endpoints
			r.Route("/radios", func(r chi.Router) {
				r.Get("/", s.handleListRadios)
				r.Post("/", s.handleAddRadio)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRadio)
					r.Delete("/", s.handleRemoveRadio)
					r.Post("/connect", s.handleConnectRadio)
					r.Post("/disconnect", s.handleDisconnectRadio)
					r.Put("/frequency", s.handleSetFrequency)
					r.Put("/mode", s.handleSetMode)
					r.Put("/ptt", s.handleSetPTT)

					// CW keying
					r.Post("/cw", s.handleKeyerSend)
					r.Delete("/cw", s.handleKeyerStop)
					r.Put("/cw/speed", s.handleKeyerSpeed)
				})
			})

			// Discovery endpoints
			r.Get("/discovery/records", s.handleDiscoveryRecords)

			// WebSocket event stream
			r.Get("/ws", s.handleWebSocket)
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
