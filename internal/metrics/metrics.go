// Package metrics exposes the supervisor's Prometheus counters and gauges.
// Grounded on other_examples' http-server-stabilizer, which instruments
// worker restarts with a single promauto.NewCounter; this package extends
// that pattern to the full set of lifecycle transitions this supervisor
// tracks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkerRestarts counts crash-restarts performed outside any transition.
	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpd_worker_restarts_total",
		Help: "Total number of worker crash-restarts.",
	})

	// ReloadTotal counts completed (not necessarily fully successful) rolling reloads.
	ReloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpd_reload_total",
		Help: "Total number of rolling reloads attempted.",
	})

	// ReloadStepAborts counts individual reload steps abandoned because the
	// replacement did not become ready (ready timeout, replacement exit, or
	// shutdown observed during the wait).
	ReloadStepAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpd_reload_step_aborts_total",
		Help: "Total number of rolling reload steps abandoned because the replacement never became ready.",
	})

	// WorkersCurrent reports the live worker count.
	WorkersCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gpd_workers_current",
		Help: "Current number of workers tracked in the registry.",
	})
)
