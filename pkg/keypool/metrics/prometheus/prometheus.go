package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

// Metrics implements keypool.Metrics using Prometheus.
type Metrics struct {
	acquireTotal               *prometheus.CounterVec
	rotationsTotal             *prometheus.CounterVec
	exhaustedTotal             prometheus.Counter
	invalidMarkedTotal         *prometheus.CounterVec
	storeOpsDuration           *prometheus.HistogramVec
	storeOpsErrors             *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	generationTotal            *prometheus.CounterVec
	generationDuration         *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		acquireTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_acquire_total",
			Help:      "Total number of requests counted against each API key.",
		}, []string{"key_index"}),

		rotationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Total number of key rotations.",
		}, []string{"from", "to"}),

		exhaustedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_pool_exhausted_total",
			Help:      "Total number of rotations that found no usable key.",
		}),

		invalidMarkedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_invalid_marked_total",
			Help:      "Total number of times a key was flagged invalid.",
		}, []string{"key_index"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of counter store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of counter store operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		generationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Total number of completion attempts by outcome.",
		}, []string{"outcome"}),

		generationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Latency of completion attempts.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordAcquire(index keypool.Index) {
	m.acquireTotal.WithLabelValues(indexLabel(index)).Inc()
}

func (m *Metrics) RecordRotation(from, to keypool.Index) {
	m.rotationsTotal.WithLabelValues(indexLabel(from), indexLabel(to)).Inc()
}

func (m *Metrics) RecordExhausted() {
	m.exhaustedTotal.Inc()
}

func (m *Metrics) RecordInvalidMarked(index keypool.Index) {
	m.invalidMarkedTotal.WithLabelValues(indexLabel(index)).Inc()
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordGeneration(outcome string, duration time.Duration) {
	m.generationTotal.WithLabelValues(outcome).Inc()
	m.generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func indexLabel(index keypool.Index) string {
	return strconv.Itoa(int(index))
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
