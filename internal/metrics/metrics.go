// Package metrics exposes Prometheus counters for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomsync"

// Metrics holds the engine's collectors on a private registry.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	eventsApplied *prometheus.CounterVec
	malformed     *prometheus.CounterVec
	reconnects    prometheus.Counter
	toasts        prometheus.Counter
	sendFailures  prometheus.Counter
	attachedRooms prometheus.Gauge
}

// New registers the engine collectors plus Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		eventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Realtime events applied to local state, by event name.",
		}, []string{"event"}),
		malformed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Events dropped because their payload could not be decoded, by source.",
		}, []string{"source"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Transport reconnections after a drop.",
		}),
		toasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toasts_total",
			Help:      "Inbound messages surfaced as toasts.",
		}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Optimistic sends rolled back after failing.",
		}),
		attachedRooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attached_rooms",
			Help:      "Rooms with a live channel subscription.",
		}),
	}
}

func (m *Metrics) EventApplied(event string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(event).Inc()
}

func (m *Metrics) Malformed(source string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(source).Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Toasted() {
	if m == nil {
		return
	}
	m.toasts.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// SetAttachedRooms records the number of attached room channels.
func (m *Metrics) SetAttachedRooms(n int) {
	if m == nil {
		return
	}
	m.attachedRooms.Set(float64(n))
}

// BusStats is the part of the event bus exported as metrics.
type BusStats interface {
	Subscribers() int
	Dropped() uint64
}

// WatchBus exports the bus subscriber count and dropped deliveries. The
// values are read at scrape time.
func (m *Metrics) WatchBus(b BusStats) {
	if m == nil {
		return
	}
	f := promauto.With(m.Registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bus_subscribers",
		Help:      "Live subscriptions on the in-process event bus.",
	}, func() float64 { return float64(b.Subscribers()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_total",
		Help:      "Bus deliveries skipped because the subscriber was full.",
	}, func() float64 { return float64(b.Dropped()) })
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
