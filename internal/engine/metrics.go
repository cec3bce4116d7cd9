package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's prometheus counters. Optional; a nil Metrics
// disables instrumentation entirely.
type Metrics struct {
	OpsEnqueued       prometheus.Counter
	OpsSynced         prometheus.Counter
	OpsRetried        prometheus.Counter
	OpsRepaired       prometheus.Counter
	ReviewRecomputes  prometheus.Counter
	Reconciled        prometheus.Counter
	ConflictsDetected prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewMetrics builds and registers the engine metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "queue", Name: "ops_enqueued_total",
			Help: "Operations made durable in the offline queue.",
		}),
		OpsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "queue", Name: "ops_synced_total",
			Help: "Queued operations confirmed by the backend.",
		}),
		OpsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "queue", Name: "ops_retried_total",
			Help: "Replay attempts that failed and were rescheduled.",
		}),
		OpsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "queue", Name: "ops_repaired_total",
			Help: "Operations that succeeded after a stale-reference repair.",
		}),
		ReviewRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "review", Name: "recomputes_total",
			Help: "Review-flag recomputations executed after debounce.",
		}),
		Reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "reconcile", Name: "repairs_total",
			Help: "Canonical transactions whose amount was repaired.",
		}),
		ConflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keeper", Subsystem: "sync", Name: "conflicts_total",
			Help: "Local/remote divergences recorded for resolution.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keeper", Subsystem: "queue", Name: "depth",
			Help: "Operations currently waiting in the offline queue.",
		}),
	}
	reg.MustRegister(
		m.OpsEnqueued, m.OpsSynced, m.OpsRetried, m.OpsRepaired,
		m.ReviewRecomputes, m.Reconciled, m.ConflictsDetected, m.QueueDepth,
	)
	return m
}
