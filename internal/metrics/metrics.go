// Package metrics exposes console server activity as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/rshell/schema"
)

// Namespace prefixes every metric name.
const Namespace = "rshell"

// Signal directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Metrics holds the console collectors on a private registry, so more than
// one server per process can export metrics.
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	rejected    prometheus.Counter
	signals     *prometheus.CounterVec
	commands    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	locks       *prometheus.CounterVec
	logins      *prometheus.CounterVec
}

// New registers the collectors. app becomes a constant label.
func New(app string) *Metrics {
	labels := prometheus.Labels{"app": app}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "connections_active",
			Help:        "Number of open console connections",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "connections_rejected_total",
			Help:        "Connections closed at accept time because max clients was reached",
			ConstLabels: labels,
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "signals_total",
			Help:        "Signals exchanged by kind and direction",
			ConstLabels: labels,
		}, []string{"kind", "direction"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "commands_total",
			Help:        "Completed command frames by command and outcome",
			ConstLabels: labels,
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Name:        "command_duration_seconds",
			Help:        "Time from begin of frame to end of frame",
			ConstLabels: labels,
			Buckets:     []float64{.005, .025, .1, .5, 1, 5, 30, 120, 600, 1800},
		}, []string{"command"}),
		locks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "lock_acquisitions_total",
			Help:        "Command lock acquire attempts by result",
			ConstLabels: labels,
		}, []string{"lock", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Name:        "logins_total",
			Help:        "Login attempts by result",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	m.registry.MustRegister(m.connections, m.rejected, m.signals, m.commands, m.duration, m.locks, m.logins)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Signal counts one signal.
func (m *Metrics) Signal(kind schema.SignalKind, direction string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(string(kind), direction).Inc()
}

// LockAcquire records an acquire outcome. It matches lock.Config.OnAcquire.
func (m *Metrics) LockAcquire(name, result string) {
	if m == nil {
		return
	}
	m.locks.WithLabelValues(name, result).Inc()
}

// OnCommandEvent records completed frames.
func (m *Metrics) OnCommandEvent(event schema.CommandEvent) {
	if m == nil || event.Phase != schema.CommandCompleted {
		return
	}
	name := event.Command
	if name == "" {
		name = "unknown"
	}
	m.commands.WithLabelValues(name, event.Outcome).Inc()
	m.duration.WithLabelValues(name).Observe(max(event.Duration, 0).Seconds())
}

// OnConnectionEvent tracks the open connection gauge and rejections.
func (m *Metrics) OnConnectionEvent(event schema.ConnectionEvent) {
	if m == nil {
		return
	}
	switch event.Phase {
	case schema.ConnectionOpened:
		m.connections.Inc()
	case schema.ConnectionClosed:
		m.connections.Dec()
	case schema.ConnectionRejected:
		m.rejected.Inc()
	}
}

// OnLoginEvent counts logins.
func (m *Metrics) OnLoginEvent(event schema.LoginEvent) {
	if m == nil {
		return
	}
	result := "failure"
	if event.Authenticated {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

