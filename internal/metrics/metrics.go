// Package metrics exposes server activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairline"

// Metrics implements matchmaker.Observer and hub.Metrics on one registry.
type Metrics struct {
	registry *prometheus.Registry

	pairAttempts *prometheus.CounterVec
	roomsCreated prometheus.Counter
	roomsClosed  prometheus.Counter

	connections prometheus.Gauge
	relayRooms  prometheus.Gauge
	relayed     *prometheus.CounterVec
	rejected    *prometheus.CounterVec

	online prometheus.Gauge
	logins *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pairAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matchmaker",
			Name:      "pair_attempts_total",
			Help:      "Pairing attempts by outcome.",
		}, []string{"outcome"}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matchmaker",
			Name:      "rooms_created_total",
			Help:      "Rooms created.",
		}),
		roomsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matchmaker",
			Name:      "rooms_closed_total",
			Help:      "Rooms deactivated.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "connections",
			Help:      "Open signaling websocket connections.",
		}),
		relayRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "rooms",
			Help:      "Rooms with at least one subscriber.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "relayed_total",
			Help:      "Signaling messages relayed by event.",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signaling",
			Name:      "rejected_total",
			Help:      "Rejected signaling frames by reason.",
		}, []string{"reason"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "online",
			Help:      "Participants seen within the presence TTL.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.pairAttempts, m.roomsCreated, m.roomsClosed,
		m.connections, m.relayRooms, m.relayed, m.rejected,
		m.online, m.logins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) PairAttempt(outcome string) { m.pairAttempts.WithLabelValues(outcome).Inc() }
func (m *Metrics) RoomCreated()               { m.roomsCreated.Inc() }
func (m *Metrics) RoomClosed()                { m.roomsClosed.Inc() }

func (m *Metrics) SetConnections(n int)   { m.connections.Set(float64(n)) }
func (m *Metrics) SetRooms(n int)         { m.relayRooms.Set(float64(n)) }
func (m *Metrics) Relayed(event string)   { m.relayed.WithLabelValues(event).Inc() }
func (m *Metrics) Rejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }

// SetOnline records the current online count.
func (m *Metrics) SetOnline(n int) { m.online.Set(float64(n)) }

// Login counts a login attempt; result is "ok", "taken" or "invalid".
func (m *Metrics) Login(result string) { m.logins.WithLabelValues(result).Inc() }
