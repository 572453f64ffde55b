package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	Turns        *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec
	Denials      *prometheus.CounterVec
	Violations   *prometheus.CounterVec
	Escalations  *prometheus.CounterVec
	CallsEnded   *prometheus.CounterVec

	ArchiveFailures prometheus.Counter
}

// NewMetrics registers orchestrator metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Turns: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "turn",
				Name:      "total",
				Help:      "Turns by chosen handler and result (committed, abandoned, degraded)",
			}, []string{"handler", "result"}),
			TurnDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "voxgov",
				Subsystem: "turn",
				Name:      "duration_seconds",
				Help:      "End-to-end turn latency by chosen handler",
				Buckets:   []float64{.01, .025, .05, .1, .2, .4, .8, 1.6, 3.2},
			}, []string{"handler"}),
			Denials: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "governance",
				Name:      "denials_total",
				Help:      "Handler admissions denied, by handler and reason",
			}, []string{"handler", "reason"}),
			Violations: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "governance",
				Name:      "violations_total",
				Help:      "Governance violations by kind",
			}, []string{"kind"}),
			Escalations: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "turn",
				Name:      "escalations_total",
				Help:      "Approved escalations by trigger",
			}, []string{"trigger"}),
			CallsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "call",
				Name:      "ended_total",
				Help:      "Finished calls by outcome status",
			}, []string{"status"}),
			ArchiveFailures: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "voxgov",
				Subsystem: "call",
				Name:      "archive_failures_total",
				Help:      "Ended calls whose archive write failed and were kept for retry",
			}),
		}
	})
	return globalMetrics
}
