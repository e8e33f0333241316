package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"options_go/internal/domain"
)

// Metrics exports engine, sequencer and gateway counters to Prometheus.
// Each instance owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	contractsFilled *prometheus.CounterVec
	chaseConverted  prometheus.Counter
	chaseAborted    prometheus.Counter
	guardRejected   *prometheus.CounterVec
	positionQty     *prometheus.GaugeVec
	panics          prometheus.Counter

	eventsProcessed prometheus.Counter
	eventLatency    prometheus.Histogram
	errorsTotal     prometheus.Counter

	connected   prometheus.Gauge
	circuitOpen prometheus.Gauge
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optgo_orders_submitted_total",
			Help: "Orders acknowledged by the broker, by role.",
		}, []string{"role"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optgo_orders_rejected_total",
			Help: "Order submissions that failed, by role.",
		}, []string{"role"}),
		contractsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optgo_contracts_filled_total",
			Help: "Filled contracts, by order role.",
		}, []string{"role"}),
		chaseConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optgo_chase_converted_total",
			Help: "Chase limits converted to market after the timeout.",
		}),
		chaseAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optgo_chase_aborted_total",
			Help: "Chase timers dropped by a connection loss.",
		}),
		guardRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optgo_guard_rejected_total",
			Help: "Actions rejected because another submission was in flight.",
		}, []string{"action"}),
		positionQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optgo_position_contracts",
			Help: "Open contracts per underlying.",
		}, []string{"symbol"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optgo_panic_total",
			Help: "Panic button presses.",
		}),
		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optgo_events_processed_total",
			Help: "Events handled by the sequencer.",
		}),
		eventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optgo_event_latency_seconds",
			Help:    "Sequencer handling time per event.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optgo_errors_total",
			Help: "Errors seen while processing events.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optgo_broker_connected",
			Help: "1 while the broker gateway is connected.",
		}),
		circuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optgo_broker_circuit_open",
			Help: "1 while the broker circuit breaker is open.",
		}),
	}
	m.registry.MustRegister(
		m.ordersSubmitted, m.ordersRejected, m.contractsFilled,
		m.chaseConverted, m.chaseAborted, m.guardRejected,
		m.positionQty, m.panics,
		m.eventsProcessed, m.eventLatency, m.errorsTotal,
		m.connected, m.circuitOpen,
	)
	return m
}

// Registry exposes the registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderSubmitted(role domain.OrderRole) {
	m.ordersSubmitted.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) OrderRejected(role domain.OrderRole) {
	m.ordersRejected.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) Filled(role domain.OrderRole, qty int64) {
	m.contractsFilled.WithLabelValues(string(role)).Add(float64(qty))
}

func (m *Metrics) ChaseConverted() {
	m.chaseConverted.Inc()
}

func (m *Metrics) ChaseAborted(n int) {
	m.chaseAborted.Add(float64(n))
}

func (m *Metrics) GuardRejected(action string) {
	m.guardRejected.WithLabelValues(action).Inc()
}

func (m *Metrics) PositionChanged(symbol string, qty int64) {
	m.positionQty.WithLabelValues(symbol).Set(float64(qty))
}

func (m *Metrics) PanicTriggered() {
	m.panics.Inc()
}

// RecordEvent records an event processing with latency.
func (m *Metrics) RecordEvent(latency time.Duration) {
	m.eventsProcessed.Inc()
	m.eventLatency.Observe(latency.Seconds())
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Inc()
}

// SetConnected sets the broker connection gauge.
func (m *Metrics) SetConnected(connected bool) {
	m.connected.Set(boolGauge(connected))
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	m.circuitOpen.Set(boolGauge(open))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
