package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Channels authenticate in-band: agents are trusted by network placement,
	// dashboards send an auth event first.
	r.Get(s.wsPath(s.wsCfg.AgentPath, "/ws/agent"), s.handleAgentSocket)
	r.Get(s.wsPath(s.wsCfg.DashboardPath, "/ws/dashboard"), s.handleDashboardSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/shutdown", s.handleShutdownDevice)
			})

			r.With(s.requireAdmin).Get("/audit", s.handleListAudit)
		})

		if s.cfg.Debug {
			r.Route("/debug", func(r chi.Router) {
				r.Get("/connections", s.handleDebugConnections)
				r.Post("/broadcast", s.handleDebugBroadcast)
			})
		}
	})

	return r
}

func (s *Server) wsPath(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return configured
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
