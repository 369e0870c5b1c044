package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/edge-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/edge-gateway/internal/metrics"
	"github.com/angeloszaimis/edge-gateway/internal/route"
)

type routeView struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Backend string `json:"backend"`
	Target  string `json:"target"`
	Rewrite string `json:"rewrite,omitempty"`
}

// setupAdminRouter serves operational endpoints on the admin listener,
// kept apart from the proxied path space.
func setupAdminRouter(collector *metrics.Collector, exporter *metrics.Exporter, breakers *circuitbreaker.Registry, table *route.Table) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})

	r.Method(http.MethodGet, "/metrics", exporter.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Get("/metrics", collector.Handler())

		r.Get("/breakers", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, breakers.Snapshots())
		})

		r.Post("/breakers/reset", func(w http.ResponseWriter, r *http.Request) {
			breakers.Reset()
			w.WriteHeader(http.StatusNoContent)
		})

		r.Get("/routes", func(w http.ResponseWriter, r *http.Request) {
			entries := table.Entries()
			views := make([]routeView, 0, len(entries))
			for _, e := range entries {
				views = append(views, routeView{
					ID:      e.ID,
					Pattern: e.Pattern,
					Backend: e.Backend,
					Target:  e.Target.String(),
					Rewrite: e.Rewrite.String(),
				})
			}
			writeJSON(w, http.StatusOK, views)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
