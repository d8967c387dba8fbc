package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize caps request bodies. No endpoint reads a body.
const maxRequestBodySize = 64 << 10

// buildRouter mounts the v1 routes. Only /health is reachable without a
// token when a JWT secret is configured.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(
		s.requestID,
		s.accessLog,
		s.recoverPanics,
		s.cors,
		middleware.RequestSize(maxRequestBodySize),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.With(s.authMiddleware, middleware.NoCache).Route("/switch", func(r chi.Router) {
			r.Get("/", s.handleGetSwitch)
			r.Get("/history", s.handleHistory)
			r.Post("/on", s.handleTurnOn)
			r.Post("/off", s.handleTurnOff)
			r.Post("/refresh", s.handleRefresh)
		})
	})

	return r
}
