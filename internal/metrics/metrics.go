package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the realtime collectors. Build one per registry; tests use
// a fresh prometheus.NewRegistry() so instances never collide.
type Metrics struct {
	Connections       prometheus.Gauge
	Rooms             prometheus.Gauge
	Events            *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	PersistFailures   *prometheus.CounterVec
	LivenessEvictions prometheus.Counter

	gatherer prometheus.Gatherer
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codecollab_ws_connections",
			Help: "Active websocket connections admitted to a room.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codecollab_rooms_active",
			Help: "Rooms with at least one member.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecollab_ws_events_total",
			Help: "Inbound events routed, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecollab_ws_dropped_total",
			Help: "Frames dropped, by reason.",
		}, []string{"reason"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codecollab_persist_failures_total",
			Help: "Persistence gateway failures, by kind.",
		}, []string{"kind"}),
		LivenessEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codecollab_liveness_evictions_total",
			Help: "Connections closed by the heartbeat sweep.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Connections, m.Rooms, m.Events, m.Dropped, m.PersistFailures, m.LivenessEvictions)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
