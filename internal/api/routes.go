// Package api exposes reforms and the admin operations over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EmpoweredVote/EV-Reforms/internal/middleware"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

type Handler struct {
	store    reforms.Store
	pipeline *reforms.Pipeline
}

func NewHandler(st reforms.Store) *Handler {
	return &Handler{store: st, pipeline: reforms.NewPipeline(st)}
}

// SetupRoutes builds the router. Admin routes require the X-Admin-Key that
// matches adminKeyHash.
func SetupRoutes(st reforms.Store, adminKeyHash string) http.Handler {
	h := NewHandler(st)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSMiddleware)

	r.Get("/", RootHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/reforms/{id}", h.GetReform)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminKey(adminKeyHash))
		r.Post("/ingest", h.Ingest)
		r.Post("/reforms/{id}/merge", h.MergeReform)
		r.Patch("/reforms/{id}", h.EditReform)
		r.Get("/ingestions", h.ListIngestions)
	})

	return r
}
