// Package metrics exposes gateway Prometheus metrics on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duck-gateway/internal/breaker"
	"duck-gateway/internal/domain"
)

const namespace = "duck_gateway"

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec   // kind, outcome, error_class
	requestDuration   *prometheus.HistogramVec // kind
	breakerState      *prometheus.GaugeVec     // dependency
	breakerTransition *prometheus.CounterVec   // dependency, to
}

// New creates and registers the gateway metrics plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Gateway requests by kind, validation outcome and error class",
		}, []string{"kind", "outcome", "error_class"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "End-to-end request duration including validation, execution and audit",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"kind"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit state per dependency (0=closed, 1=open, 2=half_open)",
		}, []string{"dependency"}),

		breakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit state transitions per dependency",
		}, []string{"dependency", "to"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.breakerState,
		m.breakerTransition,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest implements gateway.Observer.
func (m *Metrics) ObserveRequest(kind domain.RequestKind, outcome string, class domain.ErrorClass, elapsed time.Duration) {
	label := string(class)
	if class == domain.ErrorClassNone {
		label = "none"
	}
	m.requestsTotal.WithLabelValues(string(kind), outcome, label).Inc()
	m.requestDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// BreakerStateChanged records a transition. It matches
// breaker.Config.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to breaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
	m.breakerTransition.WithLabelValues(name, to.String()).Inc()
}

// InitBreaker publishes a closed state for a dependency before its first
// transition.
func (m *Metrics) InitBreaker(name string) {
	m.breakerState.WithLabelValues(name).Set(float64(breaker.StateClosed))
}
