// Package metrics holds the prometheus collectors shared by every identity.
//
// Exposed (all labelled by identity):
//   - hlfleet_signals_processed_total{kind,outcome}
//   - hlfleet_orders_total{kind,outcome}
//   - hlfleet_breakeven_total{outcome}
//   - hlfleet_ghosts_healed_total
//   - hlfleet_stale_entries_expired_total
//   - hlfleet_tick_errors_total{loop}
//   - hlfleet_last_tick_timestamp_seconds{loop}
//   - hlfleet_gateway_breaker_state (0 closed, 1 open, 2 half-open)
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hlfleet"

var (
	Registry = prometheus.NewRegistry()

	signalsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_processed_total",
			Help:      "Signals taken out of pending, by kind (entry|exit) and outcome.",
		},
		[]string{"identity", "kind", "outcome"},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order submissions by order kind and outcome (ok|rejected|error).",
		},
		[]string{"identity", "kind", "outcome"},
	)

	breakevenOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breakeven_total",
			Help:      "Breakeven promotions by outcome (promoted|lost_claim|flat|noop|rolled_back).",
		},
		[]string{"identity", "outcome"},
	)

	ghostsHealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ghosts_healed_total",
			Help:      "Filled rows closed by reconciliation because the position no longer exists.",
		},
		[]string{"identity"},
	)

	staleExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_entries_expired_total",
			Help:      "Resting entry orders cancelled after exceeding the stale age.",
		},
		[]string{"identity"},
	)

	tickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Loop ticks that ended in an error or panic.",
		},
		[]string{"identity", "loop"},
	)

	lastTick = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last finished tick per loop.",
		},
		[]string{"identity", "loop"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_breaker_state",
			Help:      "Gateway circuit breaker state: 0 closed, 1 open, 2 half-open.",
		},
		[]string{"identity"},
	)
)

func init() {
	Registry.MustRegister(signalsProcessed, ordersPlaced, breakevenOutcomes)
	Registry.MustRegister(ghostsHealed, staleExpired)
	Registry.MustRegister(tickErrors, lastTick, breakerState)
}

// Handler serves the registry in the text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func IncSignal(identity, kind, outcome string) {
	signalsProcessed.WithLabelValues(identity, kind, outcome).Inc()
}

func IncOrder(identity, kind, outcome string) {
	ordersPlaced.WithLabelValues(identity, kind, outcome).Inc()
}

func IncBreakeven(identity, outcome string) {
	breakevenOutcomes.WithLabelValues(identity, outcome).Inc()
}

func IncGhostHealed(identity string)  { ghostsHealed.WithLabelValues(identity).Inc() }
func IncStaleExpired(identity string) { staleExpired.WithLabelValues(identity).Inc() }

// ObserveTick records a finished loop tick.
func ObserveTick(identity, loop string, at time.Time, err error) {
	lastTick.WithLabelValues(identity, loop).Set(float64(at.Unix()))
	if err != nil {
		tickErrors.WithLabelValues(identity, loop).Inc()
	}
}

func SetBreakerState(identity string, state int) {
	breakerState.WithLabelValues(identity).Set(float64(state))
}
