package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/middleware"
)

// WebhookPathPrefix is the path prefix of inbound webhooks. Rate limiting
// and idempotency replay skip it.
const WebhookPathPrefix = "/api/v1/webhooks"

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, webhookCfg config.Webhook) {
	// Inbound webhooks authenticate by per-system signature, not by caller.
	r.Route(WebhookPathPrefix, func(r chi.Router) {
		r.With(middleware.WebhookSignature(h.webhookSecret, webhookCfg.SignatureHeader, webhookCfg.MaxBodyBytes)).
			Post("/{systemID}", h.ReceiveWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// External systems
		r.Get("/systems", h.ListSystems)
		r.Post("/systems", h.CreateSystem)
		r.Get("/systems/{id}", h.GetSystem)
		r.Put("/systems/{id}", h.UpdateSystem)
		r.Delete("/systems/{id}", h.DeleteSystem)
		r.Post("/systems/{id}/test", h.TestSystemConnection)
		r.Get("/breakers", h.BreakerStates)

		// Conflicts
		r.Get("/conflicts", h.ListConflicts)
		r.Get("/conflicts/{id}", h.GetConflict)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)

		// Sync records
		r.Get("/records", h.ListRecords)
		r.Get("/records/{id}", h.GetRecord)

		// Sync control
		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/run", h.RunPass)
		r.Post("/sync/backfill", h.Backfill)

		// Policy
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.UpdatePolicy)
	})
}
