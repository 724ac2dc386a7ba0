// Package metrics registers the service-level Prometheus metrics and the
// HTTP instrumentation middleware. Stage-internal metrics live next to their
// stages.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server-level Prometheus collectors.
type Metrics struct {
	EventsAccepted  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
}

// New creates and registers all server-level metrics.
func New() *Metrics {
	return &Metrics{
		EventsAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tributary_events_accepted_total",
			Help: "Raw events accepted at the landing endpoint, per tenant.",
		}, []string{"tenant"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tributary_http_request_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tributary_queue_depth",
			Help: "Current depth of each stage hand-off queue.",
		}, []string{"queue"}),
	}
}

// IncEventsAccepted counts one accepted raw event.
func (m *Metrics) IncEventsAccepted(tenant string) {
	m.EventsAccepted.WithLabelValues(tenant).Inc()
}

// Instrument is chi middleware recording per-route request latency.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

// DepthFunc reports one queue's current length.
type DepthFunc func(ctx context.Context) (int64, error)

// CollectQueueDepths samples the given queues on an interval until ctx ends.
func (m *Metrics) CollectQueueDepths(ctx context.Context, interval time.Duration, queues map[string]DepthFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range queues {
				if n, err := depth(ctx); err == nil {
					m.QueueDepth.WithLabelValues(name).Set(float64(n))
				}
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
