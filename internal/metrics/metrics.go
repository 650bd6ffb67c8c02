// Package metrics provides Prometheus instrumentation for the Rostrum event
// synchronization services. It exposes counters for publish fan-out and
// gap-fill activity, and gauges for connection and watcher counts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rostrum_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// EventsPublished counts published events, labeled by delivery class:
	// "durable", "ephemeral", or "immediate_durable".
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rostrum_events_published_total",
		Help: "Total number of events published",
	}, []string{"class"})

	// PersistFailures counts best-effort durable log appends that failed.
	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rostrum_persist_failures_total",
		Help: "Total number of failed durable log appends",
	})

	// TransportFailures counts failed real-time transport publishes.
	TransportFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rostrum_transport_failures_total",
		Help: "Total number of failed real-time transport publishes",
	})

	// GapFills counts client-side gap-fill fetches, labeled by outcome:
	// "filled", "empty", or "error".
	GapFills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rostrum_gap_fills_total",
		Help: "Total number of gap-fill fetches",
	}, []string{"outcome"})

	// ActiveWatchers tracks the current number of (connection, stream)
	// synchronizers running in the gateway.
	ActiveWatchers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rostrum_active_watchers",
		Help: "Current number of active stream watchers",
	})

	// EventsApplied counts events applied to watchers in sequence order.
	EventsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rostrum_events_applied_total",
		Help: "Total number of events applied by synchronizers",
	})

	// FetchLatency records durable log catch-up read latency in seconds.
	FetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rostrum_fetch_latency_seconds",
		Help:    "Durable log catch-up read latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		EventsPublished,
		PersistFailures,
		TransportFailures,
		GapFills,
		ActiveWatchers,
		EventsApplied,
		FetchLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
