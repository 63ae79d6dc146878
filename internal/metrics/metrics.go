// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkeye/VoiceRelay/internal/core"
)

const namespace = "voice"

type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	connections prometheus.Gauge
}

// New registers relay metrics on a private registry. stats is polled on
// every scrape for the room and member gauges.
func New(stats func() core.Stats) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound signal events by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames a connection could not accept.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Inbound events rejected before reaching the engine.",
		}, []string{"reason"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Credential requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_connections",
			Help:      "Open signal websocket connections.",
		}),
	}

	rooms := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms with at least one member.",
	}, func() float64 { return float64(stats().Rooms) })
	members := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_members",
		Help:      "Members across all rooms.",
	}, func() float64 { return float64(stats().Members) })

	m.reg.MustRegister(
		m.events, m.dropped, m.rejected, m.tokens, m.connections,
		rooms, members,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Event(typ string)               { m.events.WithLabelValues(typ).Inc() }
func (m *Metrics) Dropped(typ string)             { m.dropped.WithLabelValues(typ).Inc() }
func (m *Metrics) Rejected(reason string)         { m.rejected.WithLabelValues(reason).Inc() }
func (m *Metrics) Token(provider, outcome string) { m.tokens.WithLabelValues(provider, outcome).Inc() }
func (m *Metrics) ConnOpened()                    { m.connections.Inc() }
func (m *Metrics) ConnClosed()                    { m.connections.Dec() }

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler exposes Prometheus metrics at /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
