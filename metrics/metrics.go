package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// Online is 1 while the agent considers the backend reachable.
	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roadhazard",
		Subsystem: "offline",
		Name:      "online",
		Help:      "Whether the agent currently considers the reporting backend reachable.",
	})

	// PendingItems is the last computed pending count (retry budget left).
	PendingItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "roadhazard",
		Subsystem: "offline",
		Name:      "pending_items",
		Help:      "Number of queued mutations still eligible for automatic sync.",
	})

	SyncedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "roadhazard",
		Subsystem: "offline",
		Name:      "synced_total",
		Help:      "Total number of queued mutations confirmed by the reporting backend.",
	})

	// AttemptFailuresTotal counts failed submissions by outcome: "retry"
	// when budget was charged, "rejected" when the item became terminal.
	AttemptFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roadhazard",
		Subsystem: "offline",
		Name:      "attempt_failures_total",
		Help:      "Total number of failed sync attempts, labeled by outcome.",
	}, []string{"outcome"})

	SyncPassDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "roadhazard",
		Subsystem: "offline",
		Name:      "sync_pass_duration_seconds",
		Help:      "Wall time of one pass over the sync queue.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Register registers the offline metrics with the default Prometheus
// registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			Online,
			PendingItems,
			SyncedTotal,
			AttemptFailuresTotal,
			SyncPassDurationSeconds,
		)
	})
}
