package keypool

import "time"

// Metrics defines the interface for tracking key pool operations.
type Metrics interface {
	// RecordAcquire records a credential handed out for a request.
	RecordAcquire(index Index)

	// RecordRotation records a successful rotation between two indices.
	RecordRotation(from, to Index)

	// RecordExhausted records a rotation that found no usable credential.
	RecordExhausted()

	// RecordInvalidMarked records a credential flagged as invalid.
	RecordInvalidMarked(index Index)

	// RecordStoreOperation records the duration and status of a counter store operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordGeneration records the outcome of one completion attempt.
	RecordGeneration(outcome string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAcquire(index Index)                                                {}
func (n *NoopMetrics) RecordRotation(from, to Index)                                            {}
func (n *NoopMetrics) RecordExhausted()                                                         {}
func (n *NoopMetrics) RecordInvalidMarked(index Index)                                          {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                             {}
func (n *NoopMetrics) RecordGeneration(outcome string, duration time.Duration)                  {}
