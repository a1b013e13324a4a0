// Package metrics exposes Prometheus collectors for the evaluation runtime.
//
// Each runtime owns its own prometheus.Registry so that several runtimes
// (and tests) can live in one process without duplicate registration
// panics. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tickgraph"

// Collector groups the runtime's metrics.
type Collector struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	tickDuration   *prometheus.HistogramVec
	evaluations    *prometheus.CounterVec
	failures       *prometheus.CounterVec
	severed        *prometheus.CounterVec
	timerLeaks     *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	deviceEvents   *prometheus.CounterVec
	deviceCommands *prometheus.CounterVec
}

// New creates a collector backed by a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total evaluation ticks by graph.",
		}, []string{"graph"}),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one evaluation tick.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"graph"}),
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "node_evaluations_total",
			Help:      "Node Data calls by graph and node type.",
		}, []string{"graph", "node_type"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "node_failures_total",
			Help:      "Node Data calls that returned an error or panicked.",
		}, []string{"graph", "node_type"}),
		severed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "connections_severed_total",
			Help:      "Connections dropped because a socket disappeared.",
		}, []string{"graph"}),
		timerLeaks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timer",
			Name:      "leaks_total",
			Help:      "Timers still armed after their node was destroyed.",
		}, []string{"graph", "node_type"}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "publishes_total",
			Help:      "Buffer channel writes that changed a value.",
		}, []string{"tag"}),
		deviceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devicebus",
			Name:      "events_total",
			Help:      "Device state events received, by routing outcome.",
		}, []string{"outcome"}),
		deviceCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devicebus",
			Name:      "commands_total",
			Help:      "Device commands sent, by result.",
		}, []string{"result"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveTick records one tick.
func (c *Collector) ObserveTick(graph string, d time.Duration) {
	if c == nil {
		return
	}
	c.ticks.WithLabelValues(graph).Inc()
	c.tickDuration.WithLabelValues(graph).Observe(d.Seconds())
}

// NodeEvaluated records one Data call.
func (c *Collector) NodeEvaluated(graph, nodeType string, failed bool) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(graph, nodeType).Inc()
	if failed {
		c.failures.WithLabelValues(graph, nodeType).Inc()
	}
}

// ConnectionSevered records a dropped connection.
func (c *Collector) ConnectionSevered(graph string) {
	if c == nil {
		return
	}
	c.severed.WithLabelValues(graph).Inc()
}

// TimerLeak records timers found armed after destroy.
func (c *Collector) TimerLeak(graph, nodeType string, n int) {
	if c == nil {
		return
	}
	c.timerLeaks.WithLabelValues(graph, nodeType).Add(float64(n))
}

// BufferPublished records a changed buffer write.
func (c *Collector) BufferPublished(tag string) {
	if c == nil {
		return
	}
	c.publishes.WithLabelValues(tag).Inc()
}

// DeviceEvent records a pushed device event and whether it was routed.
func (c *Collector) DeviceEvent(outcome string) {
	if c == nil {
		return
	}
	c.deviceEvents.WithLabelValues(outcome).Inc()
}

// DeviceCommand records an outgoing device command.
func (c *Collector) DeviceCommand(result string) {
	if c == nil {
		return
	}
	c.deviceCommands.WithLabelValues(result).Inc()
}
