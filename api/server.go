/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/indicators/*     Indicator data, formulas, history, access
  /api/tables/*         Named indicator groups
  /api/ingest/*         Ingestion status and manual trigger

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Email"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/indicators", func(r chi.Router) {
			r.Get("/", h.ListIndicators)
			r.Post("/", h.CreateIndicator)
			r.Get("/{id}", h.GetIndicator)
			r.Put("/{id}", h.UpdateIndicator)
			r.Delete("/{id}", h.DeleteIndicator)

			r.Post("/{id}/data", h.WriteData)
			r.Post("/{id}/formula", h.SetFormula)

			r.Get("/{id}/timeline", h.Timeline)
			r.Get("/{id}/history", h.ValueHistory)
			r.Post("/{id}/restore", h.Restore)

			r.Post("/{id}/access", h.SetAccessLevel)
			r.Post("/{id}/grants", h.SetGrant)
		})

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", h.ListTables)
			r.Post("/", h.SaveTable)
			r.Get("/{id}", h.GetTable)
			r.Delete("/{id}", h.DeleteTable)
		})

		r.Route("/ingest", func(r chi.Router) {
			r.Get("/runs", h.ListIngestRuns)
			r.Post("/run", h.TriggerIngest)
		})
	})

	return r
}
