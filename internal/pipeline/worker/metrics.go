package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tributary_worker_handled_total",
		Help: "Messages handled per stage pool, by outcome.",
	}, []string{"pool", "outcome"})

	polledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tributary_worker_polled_total",
		Help: "Rows recovered by the poll fallback per stage pool.",
	}, []string{"pool"})

	handleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tributary_worker_handle_seconds",
		Help:    "Per-message handling latency per stage pool.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pool"})
)
