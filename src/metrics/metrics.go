// Package metrics holds the Prometheus series the engine updates:
//
//	positionguard_trigger_placements_total{result}  placed|adjusted|retried|exhausted
//	positionguard_exits_total{reason,direction}     take_profit|stop_breached|placement_fallback|...
//	positionguard_cycle_outcomes_total{outcome}     one per managed position per cycle
//	positionguard_reconcile_actions_total{action}   corrections applied by reconciliation
//	positionguard_open_positions                    open positions after the last cycle
//	positionguard_cycle_duration_seconds            wall time of one management cycle
//	positionguard_ticker_failures_total{stage}      per-ticker failures contained by the controller
//
// Registered in init() and served at /metrics by src/server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TriggerPlacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "positionguard_trigger_placements_total",
			Help: "Protective trigger placement attempts by result",
		},
		[]string{"result"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "positionguard_exits_total",
			Help: "Market exits split by reason and direction",
		},
		[]string{"reason", "direction"},
	)

	CycleOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "positionguard_cycle_outcomes_total",
			Help: "Stop-loss engine outcomes per managed position",
		},
		[]string{"outcome"},
	)

	ReconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "positionguard_reconcile_actions_total",
			Help: "Corrections applied by reconciliation",
		},
		[]string{"action"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "positionguard_open_positions",
			Help: "Open positions after the last cycle",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "positionguard_cycle_duration_seconds",
			Help:    "Wall time of one management cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	TickerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "positionguard_ticker_failures_total",
			Help: "Per-ticker failures contained by the cycle controller",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		TriggerPlacements,
		Exits,
		CycleOutcomes,
		ReconcileActions,
		OpenPositions,
		CycleDuration,
		TickerFailures,
	)
}
