// ABOUTME: Prometheus metrics for the coordinator
// ABOUTME: Connection gauge plus ingestion and broadcast counters
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordinator's instrumentation. Each server owns its own
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	Ingestions       *prometheus.CounterVec
	Broadcasts       *prometheus.CounterVec
}

// NewMetrics creates and registers the coordinator metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "splitcast_connected_clients",
			Help: "Currently connected WebSocket clients.",
		}),
		Ingestions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitcast_ingestions_total",
			Help: "Ingestion outcomes by stage.",
		}, []string{"result"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "splitcast_broadcasts_total",
			Help: "Fan-out broadcasts by message type.",
		}, []string{"type"}),
	}
}
