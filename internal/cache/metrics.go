package cache

import (
	"time"

	"github.com/ntentasd/acuamon-api/internal/metrics"
)

// recorder feeds the shared cache collectors under one driver label.
type recorder string

func (r recorder) lookup(start time.Time, found bool) {
	if !found {
		metrics.CacheMissesTotal.WithLabelValues(string(r)).Inc()
		return
	}
	metrics.CacheHitsTotal.WithLabelValues(string(r)).Inc()
	metrics.CacheReadLatencySeconds.WithLabelValues(string(r)).Observe(time.Since(start).Seconds())
}

func (r recorder) stored(start time.Time) {
	metrics.CacheWriteLatencySeconds.WithLabelValues(string(r)).Observe(time.Since(start).Seconds())
}
