// Package metrics holds the prometheus collectors shared by the hub
// and relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients    prometheus.Gauge
	Broadcasts          *prometheus.CounterVec
	DroppedSends        prometheus.Counter
	Evictions           prometheus.Counter
	RelayRecords        *prometheus.CounterVec
	RelayDecodeFailures *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "courtsync_connected_clients",
			Help: "Currently registered websocket connections.",
		}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courtsync_broadcasts_total",
			Help: "Notifications fanned out to subscribers, by topic kind.",
		}, []string{"kind"}),
		DroppedSends: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtsync_dropped_sends_total",
			Help: "Messages dropped because a connection outbox was full.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "courtsync_heartbeat_evictions_total",
			Help: "Connections force-closed by the heartbeat sweep.",
		}),
		RelayRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courtsync_relay_records_total",
			Help: "Change records consumed from the store feeds.",
		}, []string{"feed"}),
		RelayDecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "courtsync_relay_decode_failures_total",
			Help: "Change records skipped because they failed to decode.",
		}, []string{"feed"}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
