/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/vessels/*   Vessel management and status machine
  /api/batches/*   Batches, ledger history, measurements
  /api/transfers   Transfer commits
  /api/packaging   Packaging commits
  /api/ttb/*       Reconciliation and tax

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Vessel routes
		r.Route("/vessels", func(r chi.Router) {
			r.Get("/", h.ListVessels)
			r.Post("/", h.CreateVessel)
			r.Get("/{id}", h.GetVessel)
			r.Post("/{id}/status", h.ChangeVesselStatus)
			r.Delete("/{id}", h.DeactivateVessel)
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/status", h.ChangeBatchStatus)
			r.Get("/{id}/movements", h.GetMovements)
			r.Get("/{id}/transfers", h.ListTransfers)
			r.Get("/{id}/packaging", h.ListPackagingRuns)
			r.Get("/{id}/measurements", h.ListMeasurements)
			r.Post("/{id}/measurements", h.SubmitMeasurement)
		})

		// Operation routes
		r.Post("/transfers", h.SubmitTransfer)
		r.Post("/packaging", h.SubmitPackaging)

		// TTB routes
		r.Route("/ttb", func(r chi.Router) {
			r.Route("/reconciliations", func(r chi.Router) {
				r.Get("/", h.ListReconciliations)
				r.Post("/", h.BuildReconciliation)
				r.Get("/{id}", h.GetReconciliation)
				r.Get("/{id}/chain", h.ValidateReconciliationChain)
				r.Post("/{id}/review", h.ReviewReconciliation)
				r.Post("/{id}/finalize", h.FinalizeReconciliation)
				r.Post("/{id}/adjustments", h.SubmitAdjustment)
			})
			r.Post("/tax", h.ComputeTax)
		})
	})

	return r
}
