// Package metrics exposes Prometheus instrumentation for the event loop,
// pool manager, and executor, grounded on cuemby-warren's
// pkg/metrics/metrics.go package-level vars + MustRegister + promhttp.Handler
// shape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AgentsTotal counts registered agents by role and status.
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmx_agents_total",
			Help: "Total number of registered agents by role and status",
		},
		[]string{"role", "status"},
	)

	// PoolDeficit reports each role's current replenishment deficit.
	PoolDeficit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmx_pool_deficit",
			Help: "Difference between a role's configured minimum and its current idle+busy count",
		},
		[]string{"role"},
	)

	// TickDuration measures one event-loop tick's wall time.
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cmx_event_loop_tick_duration_seconds",
			Help:    "Duration of one event loop tick (drain + accept + expire, plus any reconcile, flush, history or health work due that tick)",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WatchersParked reports the current count of parked watch connections.
	WatchersParked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cmx_watchers_parked",
			Help: "Number of connections currently parked in the watch registry",
		},
	)

	// ExecutorRetriesTotal counts retry attempts the executor has spent, by
	// action kind.
	ExecutorRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmx_executor_retries_total",
			Help: "Total retry attempts consumed by the executor, by action kind",
		},
		[]string{"kind"},
	)

	// ExecutorFailuresTotal counts actions that exhausted their retry budget.
	ExecutorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmx_executor_failures_total",
			Help: "Total actions that failed after exhausting retries, by action kind",
		},
		[]string{"kind"},
	)

	// CommandsTotal counts dispatched commands by discriminator and outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmx_commands_total",
			Help: "Total commands dispatched through the state core, by command and outcome",
		},
		[]string{"command", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(PoolDeficit)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(WatchersParked)
	prometheus.MustRegister(ExecutorRetriesTotal)
	prometheus.MustRegister(ExecutorFailuresTotal)
	prometheus.MustRegister(CommandsTotal)
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format, for the daemon to mount alongside its socket listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand increments CommandsTotal for a dispatched command.
func RecordCommand(command string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	CommandsTotal.WithLabelValues(command, outcome).Inc()
}
