package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.secret))
			r.Post("/sync/events", h.SyncEvents)
		})
	})

	return r
}
