package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the ops API on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	if h.Live != nil {
		r.Get("/ws", h.Live.HandleWS)
	}
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Scheduler
		r.Get("/scheduler/status", h.SchedulerStatus)
		r.Post("/scheduler/triggers/{name}", h.FireTrigger)

		// Pipelines
		r.Post("/pipelines", h.StartPipeline)
		r.Get("/pipelines", h.ListPipelines)
		r.Get("/pipelines/{id}", h.GetPipeline)
		r.Get("/templates", h.ListTemplates)

		// Buzz
		r.Get("/entities", h.ListEntities)
		r.Get("/buzz", h.ListBuzz)

		// Agents
		r.Get("/agents", h.ListAgents)
	})
}
