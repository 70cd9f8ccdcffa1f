package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "http_requests_total",
		Namespace: Namespace,
		Help:      "Requests served, by method, route template and status.",
	}, []string{"method", "route", "status"})

	// Reports can take seconds to render, so the buckets reach further than
	// the defaults.
	HttpRequestLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "http_request_latency_seconds",
		Namespace: Namespace,
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		Help:      "The latency of http requests in seconds.",
	}, []string{"method", "route"})
)
