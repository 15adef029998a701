package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds collectors for the dispatcher, hubs and streams.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	hubInvocations    *prometheus.CounterVec
	hubConnections    *prometheus.GaugeVec
	streamConnections prometheus.Gauge
	streamEvents      *prometheus.CounterVec
	streamEvicted     prometheus.Counter
	transportFaults   *prometheus.CounterVec
}

// NewEngineMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewEngineMetrics(namespace string, reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)

	return &EngineMetrics{
		dispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "requests_total",
				Help:      "Dispatched requests by outcome",
			},
			[]string{"outcome"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent resolving and invoking handlers",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		hubInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "invocations_total",
				Help:      "Hub method invocations by hub and outcome",
			},
			[]string{"hub", "outcome"},
		),
		hubConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "connections",
				Help:      "Open hub connections",
			},
			[]string{"hub"},
		),
		streamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connections",
				Help:      "Open event-stream connections",
			},
		),
		streamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "events_total",
				Help:      "Event-stream deliveries by kind",
			},
			[]string{"kind"},
		),
		streamEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "evicted_total",
				Help:      "Stale event-stream connections evicted",
			},
		),
		transportFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "faults_total",
				Help:      "Host transport callbacks that failed",
			},
			[]string{"channel"},
		),
	}
}

func (m *EngineMetrics) ObserveDispatch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(outcome).Inc()
	m.dispatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *EngineMetrics) HubInvoked(hub, outcome string) {
	if m == nil {
		return
	}
	m.hubInvocations.WithLabelValues(hub, outcome).Inc()
}

func (m *EngineMetrics) HubConnections(hub string, delta float64) {
	if m == nil {
		return
	}
	m.hubConnections.WithLabelValues(hub).Add(delta)
}

func (m *EngineMetrics) StreamConnections(delta float64) {
	if m == nil {
		return
	}
	m.streamConnections.Add(delta)
}

func (m *EngineMetrics) StreamEvent(kind string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(kind).Inc()
}

func (m *EngineMetrics) StreamEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamEvicted.Add(float64(n))
}

func (m *EngineMetrics) TransportFault(channel string) {
	if m == nil {
		return
	}
	m.transportFaults.WithLabelValues(channel).Inc()
}
