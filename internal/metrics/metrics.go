// Package metrics exposes Prometheus instrumentation for the hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's instrument set on a private registry so tests can
// create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	DevicesOnline    prometheus.Gauge
	AdminsOnline     prometheus.Gauge
	FramesRelayed    prometheus.Counter
	FramesDropped    prometheus.Counter
	MessagesDropped  prometheus.Counter
	ControlOverflows prometheus.Counter
	DevicesDenied    prometheus.Counter
	IdleReaps        prometheus.Counter
}

// New creates a Metrics set backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		DevicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signage", Subsystem: "hub", Name: "devices_online",
			Help: "Number of device sessions currently connected.",
		}),
		AdminsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signage", Subsystem: "hub", Name: "admins_online",
			Help: "Number of admin sessions currently connected.",
		}),
		FramesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signage", Subsystem: "hub", Name: "screencast_frames_relayed_total",
			Help: "Screencast frames forwarded to admin subscribers.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signage", Subsystem: "hub", Name: "screencast_frames_dropped_total",
			Help: "Screencast frames dropped by rate limiting or full queues.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signage", Subsystem: "hub", Name: "messages_dropped_total",
			Help: "Malformed or unroutable frames discarded by the hub.",
		}),
		ControlOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signage", Subsystem: "hub", Name: "control_queue_overflows_total",
			Help: "Sessions disconnected because their control queue filled.",
		}),
		DevicesDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signage", Subsystem: "hub", Name: "devices_denied_total",
			Help: "Device connections rejected by license enforcement.",
		}),
		IdleReaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "signage", Subsystem: "hub", Name: "idle_sessions_reaped_total",
			Help: "Device sessions closed for missing heartbeats.",
		}),
	}
	registry.MustRegister(
		m.DevicesOnline, m.AdminsOnline,
		m.FramesRelayed, m.FramesDropped,
		m.MessagesDropped, m.ControlOverflows,
		m.DevicesDenied, m.IdleReaps,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
