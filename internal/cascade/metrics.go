package cascade

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the cascade's Prometheus collectors.
type Metrics struct {
	Outcomes        *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RunDuration     prometheus.Histogram
}

// NewMetrics registers cascade metrics once per process.
//
//   - voxgov_cascade_outcomes_total{status}
//   - voxgov_cascade_source_attempts_total{status}
//   - voxgov_cascade_source_duration_seconds{status}
//   - voxgov_cascade_duration_seconds
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "cascade",
				Name:      "outcomes_total",
				Help:      "Cascade runs by terminal status",
			}, []string{"status"}),
			Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "cascade",
				Name:      "source_attempts_total",
				Help:      "Per-source attempts by attempt status",
			}, []string{"status"}),
			AttemptDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "voxgov",
				Subsystem: "cascade",
				Name:      "source_duration_seconds",
				Help:      "Time spent on one source, pre-filter included",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			}, []string{"status"}),
			RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "voxgov",
				Subsystem: "cascade",
				Name:      "duration_seconds",
				Help:      "Total time of a cascade run",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			}),
		}
	})
	return globalMetrics
}
