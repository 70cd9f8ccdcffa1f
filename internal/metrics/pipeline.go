package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RollupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rollup_runs_total",
		Namespace: Namespace,
		Help:      "Rollup runs by period kind and result (ok, failed, skipped).",
	}, []string{"kind", "result"})

	RollupDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "rollup_duration_seconds",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
		Help:      "The duration of rollup runs in seconds.",
	}, []string{"kind"})

	AggregatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "aggregates_total",
		Namespace: Namespace,
		Help:      "Per-unit rollup outcomes (created, exists, failed).",
	}, []string{"kind", "outcome"})

	ReportLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "report_latency_seconds",
		Namespace: Namespace,
		Buckets:   prometheus.DefBuckets,
		Help:      "The latency of PDF report generation in seconds.",
	}, []string{"kind"})

	ReadingsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "readings_ingested_total",
		Namespace: Namespace,
		Help:      "Readings received by source (http, mqtt, kafka) and result.",
	}, []string{"source", "result"})
)
