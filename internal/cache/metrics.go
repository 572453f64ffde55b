package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus counters for all named caches.
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Evictions *prometheus.CounterVec
}

// NewMetrics registers cache metrics once per process.
//
//   - voxgov_cache_hits_total{cache}
//   - voxgov_cache_misses_total{cache}
//   - voxgov_cache_evictions_total{cache}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Hits: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "voxgov_cache_hits_total",
				Help: "Cache lookups that returned a live entry",
			}, []string{"cache"}),
			Misses: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "voxgov_cache_misses_total",
				Help: "Cache lookups that found nothing or an expired entry",
			}, []string{"cache"}),
			Evictions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "voxgov_cache_evictions_total",
				Help: "Entries removed by expiry, capacity or explicit delete",
			}, []string{"cache"}),
		}
	})
	return globalMetrics
}
