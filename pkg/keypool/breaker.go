package keypool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the current state of the circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned when the store circuit breaker is open.
var ErrCircuitOpen = errors.New("counter store circuit breaker is open")

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before allowing a trial call (default: 30 seconds)
	ResetTimeout time.Duration
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu sync.RWMutex

	state               BreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state BreakerState)
}

// NewBreaker creates a circuit breaker. onStateChange may be nil.
func NewBreaker(config BreakerConfig, onStateChange func(state BreakerState)) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		onStateChange:    onStateChange,
	}
}

// State returns the current state; an open breaker reads as half-open once the reset timeout passed.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == StateOpen && time.Since(b.lastFailureTime) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open.
// Caller cancellation is not counted as a store failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if b.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	switch {
	case err == nil:
		b.success()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// caller gave up; says nothing about store health
	default:
		b.failure()
	}
	return err
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.changeState(StateClosed)
	}
	b.consecutiveFailures = 0
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	halfOpen := b.state == StateOpen && time.Since(b.lastFailureTime) >= b.resetTimeout

	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	if halfOpen || (b.state == StateClosed && b.consecutiveFailures >= b.failureThreshold) {
		b.changeState(StateOpen)
	}
}

func (b *Breaker) changeState(newState BreakerState) {
	if b.state != newState {
		b.state = newState
		if b.onStateChange != nil {
			b.onStateChange(newState)
		}
	}
}

// CircuitBreakerStore wraps a CounterStore with circuit breaker protection.
// When the store keeps failing, calls fail fast with ErrCircuitOpen instead of
// waiting on network timeouts.
type CircuitBreakerStore struct {
	store CounterStore
	cb    *Breaker
}

// NewCircuitBreakerStore wraps store. State changes are reported to metrics when non-nil.
func NewCircuitBreakerStore(store CounterStore, config BreakerConfig, metrics Metrics) *CircuitBreakerStore {
	var onChange func(BreakerState)
	if metrics != nil {
		onChange = func(state BreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
		}
	}
	return &CircuitBreakerStore{
		store: store,
		cb:    NewBreaker(config, onChange),
	}
}

// State returns the breaker state
func (s *CircuitBreakerStore) State() BreakerState {
	return s.cb.State()
}

func (s *CircuitBreakerStore) GetInt(ctx context.Context, key string) (int, bool, error) {
	var value int
	var found bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		value, found, e = s.store.GetInt(ctx, key)
		return e
	})
	return value, found, err
}

func (s *CircuitBreakerStore) IncrBy(ctx context.Context, key string, by int) (int, error) {
	var value int
	err := s.cb.Execute(ctx, func() error {
		var e error
		value, e = s.store.IncrBy(ctx, key, by)
		return e
	})
	return value, err
}

func (s *CircuitBreakerStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := s.cb.Execute(ctx, func() error {
		var e error
		ttl, e = s.store.TTL(ctx, key)
		return e
	})
	return ttl, err
}

func (s *CircuitBreakerStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.Expire(ctx, key, ttl)
	})
}

func (s *CircuitBreakerStore) SetString(ctx context.Context, key, value string) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.SetString(ctx, key, value)
	})
}

func (s *CircuitBreakerStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.SetWithExpiry(ctx, key, value, ttl)
	})
}

func (s *CircuitBreakerStore) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		value, found, e = s.store.GetString(ctx, key)
		return e
	})
	return value, found, err
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, key string) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.Delete(ctx, key)
	})
}

func (s *CircuitBreakerStore) ListPushFront(ctx context.Context, key, value string) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.ListPushFront(ctx, key, value)
	})
}

func (s *CircuitBreakerStore) ListTrim(ctx context.Context, key string, start, stop int) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.ListTrim(ctx, key, start, stop)
	})
}

func (s *CircuitBreakerStore) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	var values []string
	err := s.cb.Execute(ctx, func() error {
		var e error
		values, e = s.store.ListRange(ctx, key, start, stop)
		return e
	})
	return values, err
}
