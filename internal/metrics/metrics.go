// Package metrics defines the Prometheus instrumentation for the PEARL
// server. All collectors are registered on an explicit Registerer so tests
// can construct an isolated registry per test instead of sharing the global
// one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the server exposes on /metrics.
type Metrics struct {
	// ConnectedClients tracks the number of live WebSocket sessions.
	ConnectedClients prometheus.Gauge

	// EventsBroadcast counts change events handed to the hub, labelled by
	// entity type and operation.
	EventsBroadcast *prometheus.CounterVec

	// MessagesDelivered counts messages queued to individual client channels.
	MessagesDelivered prometheus.Counter

	// SlowClientsPruned counts clients disconnected because their send
	// buffer filled up during a broadcast.
	SlowClientsPruned prometheus.Counter

	// HTTPRequests counts REST requests by method and status class.
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ConnectedClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pearl_ws_connected_clients",
			Help: "Number of currently connected WebSocket sessions.",
		}),
		EventsBroadcast: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pearl_ws_events_broadcast_total",
			Help: "Change events handed to the broadcast hub.",
		}, []string{"entity", "operation"}),
		MessagesDelivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pearl_ws_messages_delivered_total",
			Help: "Messages queued to client send buffers.",
		}),
		SlowClientsPruned: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pearl_ws_slow_clients_pruned_total",
			Help: "Clients disconnected because their send buffer was full.",
		}),
		HTTPRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pearl_http_requests_total",
			Help: "REST API requests.",
		}, []string{"method", "status"}),
	}
}
