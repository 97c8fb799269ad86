package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the file server. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// File operation metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BytesTransferred  *prometheus.CounterVec

	// Auth metrics
	Logins *prometheus.CounterVec

	// Event stream metrics
	EventConnections prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
}

// NewMetrics creates collectors registered on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fileserver_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route"},
		),

		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_operations_total",
				Help: "File operations by outcome",
			},
			[]string{"op", "result"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fileserver_operation_duration_seconds",
				Help:    "File operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
			},
			[]string{"op"},
		),
		BytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_bytes_total",
				Help: "Bytes streamed by direction",
			},
			[]string{"direction"},
		),

		Logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),

		EventConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fileserver_event_connections",
				Help: "Open change-event streams",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileserver_events_published_total",
				Help: "Change events delivered to subscribers",
			},
			[]string{"type"},
		),
	}
}

// Registry exposes the underlying registry.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveOperation records a file operation and its outcome kind ("ok" on success).
func (m *Metrics) ObserveOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// AddBytes counts streamed bytes; direction is "in", "out" or "copy".
func (m *Metrics) AddBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesTransferred.WithLabelValues(direction).Add(float64(n))
}

// ObserveLogin records a login attempt.
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// EventStreamOpened tracks a new event stream.
func (m *Metrics) EventStreamOpened() {
	if m == nil {
		return
	}
	m.EventConnections.Inc()
}

// EventStreamClosed tracks a closed event stream.
func (m *Metrics) EventStreamClosed() {
	if m == nil {
		return
	}
	m.EventConnections.Dec()
}

// EventPublished counts one delivered change event.
func (m *Metrics) EventPublished(changeType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(changeType).Inc()
}
