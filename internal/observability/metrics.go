package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig holds configuration for request metrics
type MetricsConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Namespace for metrics (e.g., "myapp")
	Namespace string

	// Subsystem for metrics (e.g., "http")
	Subsystem string

	// Buckets for response time histogram
	Buckets []float64

	// Registerer receives the collectors. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// Metrics holds request-level Prometheus collectors
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
}

// DefaultMetricsConfig returns a default metrics configuration
func DefaultMetricsConfig(namespace string) *MetricsConfig {
	return &MetricsConfig{
		Namespace:  namespace,
		Subsystem:  "http",
		Buckets:    []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		Registerer: prometheus.DefaultRegisterer,
	}
}

// NewMetrics creates the request collectors
func NewMetrics(config *MetricsConfig) *Metrics {
	if config == nil {
		config = DefaultMetricsConfig("app")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing prometheus metrics",
		"namespace", config.Namespace,
		"subsystem", config.Subsystem,
	)

	factory := promauto.With(config.Registerer)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "requests_total",
				Help:      "Total number of requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request latency in seconds",
				Buckets:   config.Buckets,
			},
			[]string{"method", "route", "status"},
		),
		responseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "response_size_bytes",
				Help:      "Response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
			},
			[]string{"method", "route", "status"},
		),
		activeRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "requests_active",
				Help:      "Number of in-flight requests",
			},
		),
	}
}

// Begin marks a request as in flight and returns a function that records
// its outcome. route should be a bounded label such as a route template.
func (m *Metrics) Begin() func(method, route string, status, size int) {
	if m == nil {
		return func(string, string, int, int) {}
	}
	start := time.Now()
	m.activeRequests.Inc()
	return func(method, route string, status, size int) {
		m.activeRequests.Dec()
		code := strconv.Itoa(status)
		m.requestsTotal.WithLabelValues(method, route, code).Inc()
		m.requestDuration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		m.responseSize.WithLabelValues(method, route, code).Observe(float64(size))
	}
}

// MetricsHandler returns a Prometheus metrics HTTP handler
// Endpoint: GET /metrics
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
