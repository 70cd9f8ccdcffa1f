package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ScyllaDb = "scylladb"

	OpRead  = "read"
	OpWrite = "write"
)

// DbQueryLatencySeconds covers every CQL statement, split by direction and
// by the statement's short name.
var DbQueryLatencySeconds = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:        "db_query_latency_seconds",
		Namespace:   Namespace,
		ConstLabels: prometheus.Labels{"db": ScyllaDb},
		Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
		Help:        "The latency of scylla statements in seconds.",
	},
	[]string{"op", "query"},
)
