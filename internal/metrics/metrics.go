// Package metrics defines the Prometheus instrumentation for the hedging
// engine. Counters and gauges are registered in init() and served at /metrics
// by the HTTP server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibhedge_ticks_processed_total",
			Help: "Ticks applied to position machines",
		},
		[]string{"coin"},
	)

	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibhedge_ticks_dropped_total",
			Help: "Ticks dropped before application",
		},
		[]string{"reason"}, // stale|invalid
	)

	TriggersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibhedge_triggers_fired_total",
			Help: "Fibonacci level triggers by level and action",
		},
		[]string{"level", "action"},
	)

	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fibhedge_persistence_failures_total",
			Help: "Position saves that exhausted their retry budget",
		},
	)

	DirtyPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fibhedge_dirty_positions",
			Help: "Positions whose in-memory state is ahead of the store",
		},
	)

	ActivePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fibhedge_active_positions",
			Help: "Positions in the tick fan-out index",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksProcessed, TicksDropped)
	prometheus.MustRegister(TriggersFired)
	prometheus.MustRegister(PersistenceFailures, DirtyPositions, ActivePositions)
}
