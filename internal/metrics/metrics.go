package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "astras_gateway"

// Metrics holds all collectors registered by the gateway.
type Metrics struct {
	registry *prometheus.Registry

	ClientSessions prometheus.Gauge
	Subscriptions  *prometheus.GaugeVec
	Deliveries     *prometheus.CounterVec
	Superseded     *prometheus.CounterVec
	Commands       *prometheus.CounterVec
	CommandLatency *prometheus.HistogramVec
	Reconnects     *prometheus.CounterVec
	RESTRequests   *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ClientSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_sessions",
			Help:      "Number of connected client sockets",
		}),

		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Live logical subscriptions by channel kind",
		}, []string{"kind"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Data messages written to clients by channel kind",
		}, []string{"kind"}),

		Superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_total",
			Help:      "Intermediate states dropped by delivery throttling",
		}, []string{"kind"}),

		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_commands_total",
			Help:      "Upstream trading commands by op and result",
		}, []string{"op", "result"}),

		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_command_seconds",
			Help:      "Upstream command round-trip latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),

		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Upstream WebSocket re-establishments by channel",
		}, []string{"channel"}),

		RESTRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_rest_requests_total",
			Help:      "Upstream REST requests by path and result",
		}, []string{"path", "result"}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Client REST requests by route and status code",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ClientSessions,
		m.Subscriptions,
		m.Deliveries,
		m.Superseded,
		m.Commands,
		m.CommandLatency,
		m.Reconnects,
		m.RESTRequests,
		m.HTTPRequests,
	)

	return m
}

// Registry exposes the underlying registry (for tests and gathering).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened records a new client socket.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ClientSessions.Inc()
}

// SessionClosed records a client socket going away.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ClientSessions.Dec()
}

// SubscriptionStarted records a live subscription of kind.
func (m *Metrics) SubscriptionStarted(kind string) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(kind).Inc()
}

// SubscriptionEnded records a subscription reaching Closed.
func (m *Metrics) SubscriptionEnded(kind string) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(kind).Dec()
}

// Delivered records one data message written to a client.
func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(kind).Inc()
}

// Dropped records one superseded state.
func (m *Metrics) Dropped(kind string) {
	if m == nil {
		return
	}
	m.Superseded.WithLabelValues(kind).Inc()
}

// ObserveCommand records one upstream command outcome.
func (m *Metrics) ObserveCommand(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(op, result).Inc()
	m.CommandLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Reconnected records an upstream socket re-establishment.
func (m *Metrics) Reconnected(channel string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(channel).Inc()
}

// ObserveREST records one upstream REST request.
func (m *Metrics) ObserveREST(path, result string) {
	if m == nil {
		return
	}
	m.RESTRequests.WithLabelValues(path, result).Inc()
}

// ObserveHTTP records one client REST request.
func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
