// Package metrics holds the Prometheus instruments for the restore core.
// Collectors are registered on the default registry and exposed by the
// /metrics endpoint in the HTTP router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RestoresStarted counts restore requests accepted for background
	// execution.
	RestoresStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backup_restores_started_total",
		Help: "Restore operations accepted and started in the background.",
	})

	// RestoresSucceeded counts restores that reached a terminal success.
	RestoresSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backup_restores_succeeded_total",
		Help: "Restore operations that completed successfully.",
	})

	// RestoresFailed counts restores that reached a terminal error.
	RestoresFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backup_restores_failed_total",
		Help: "Restore operations that ended with an error event.",
	})

	// SearchesServed counts cross-archive search requests answered.
	SearchesServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backup_searches_total",
		Help: "Cross-archive filename searches served.",
	})
)

// RegisterWSGauge registers a gauge tracking connected websocket clients.
// Called once at startup with the hub's ConnectedCount.
func RegisterWSGauge(connected func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "backup_ws_clients",
		Help: "Currently connected WebSocket clients.",
	}, func() float64 {
		return float64(connected())
	})
}
