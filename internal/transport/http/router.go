// Package httptransport is the thin HTTP layer over the pipeline services.
// Handlers decode, delegate and encode; every business rule lives below.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tributary/internal/platform/metrics"
	"tributary/internal/platform/middleware"
)

// HealthFunc reports dependency health; nil error means healthy.
type HealthFunc func() error

// NewRouter wires the public API. Everything under /v1 requires a tenant
// scoped bearer token; health and metrics stay open for the platform.
func NewRouter(h *Handler, signingKey []byte, m *metrics.Metrics, logger *slog.Logger, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ClientMetadata)
	r.Use(m.Instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireTenant(signingKey, logger))

		r.Post("/events", h.handleIngestEvent)
		r.Get("/entities/{kind}/{businessKey}/satellites/{satKind}", h.handleCurrentSatellite)
		r.Get("/entities/{kind}/{businessKey}/satellites/{satKind}/history", h.handleSatelliteHistory)
		r.Get("/pipeline/status", h.handlePipelineStatus)
		r.Get("/pipeline/quarantine", h.handleQuarantine)
	})

	return r
}
