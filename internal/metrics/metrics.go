// Package metrics provides Prometheus instrumentation for the relay. It
// exposes gauges for connection counts, counters for event throughput and
// delivery outcomes, and histograms for event processing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket sessions.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dm_connections_total",
		Help: "Current number of live WebSocket sessions",
	})

	// EventsTotal counts inbound protocol events, labeled by type:
	// "message", "status_update", "delete_message", or "invalid".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_events_total",
		Help: "Total number of inbound protocol events processed",
	}, []string{"type"})

	// DeliveriesTotal counts fan-out outcomes, labeled by result:
	// "live" (at least one session reached) or "stored_only".
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_deliveries_total",
		Help: "Total number of message fan-outs by delivery outcome",
	}, []string{"result"})

	// EventErrors counts per-event failures reported back to clients,
	// labeled by error code.
	EventErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_event_errors_total",
		Help: "Total number of event-scoped errors reported to clients",
	}, []string{"code"})

	// AuthFailures counts connections refused at the authentication gate.
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dm_auth_failures_total",
		Help: "Total number of connections refused by token verification",
	})

	// EventLatency records end-to-end event processing latency in seconds,
	// from frame receipt to fan-out completion.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_event_latency_seconds",
		Help:    "Event processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsTotal,
		DeliveriesTotal,
		EventErrors,
		AuthFailures,
		EventLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
