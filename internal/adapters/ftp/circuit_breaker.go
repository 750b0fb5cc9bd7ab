package ftp

import (
	"sync"
	"time"

	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed allows all requests
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks all requests
	CircuitOpen
	// CircuitHalfOpen allows limited requests to test recovery
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// StateChangeFunc is invoked (outside the lock) whenever the breaker
// transitions state, for notification and metrics sinks.
type StateChangeFunc func(from, to CircuitState)

// CircuitBreaker gates FTP operations against a failing host. Failures are
// counted within a rolling window; when the count reaches the threshold the
// breaker opens for the cool-off period, during which acquisitions fail fast
// with ErrFTPUnavailable.
type CircuitBreaker struct {
	threshold int
	window    time.Duration
	coolOff   time.Duration

	state         CircuitState
	failures      []time.Time
	lastOpenedAt  time.Time
	onStateChange StateChangeFunc

	mu    sync.Mutex
	clock shared.Clock
}

// NewCircuitBreaker creates a breaker with optional clock injection.
// If clock is nil, uses RealClock.
func NewCircuitBreaker(threshold int, window, coolOff time.Duration, clock shared.Clock) *CircuitBreaker {
	if clock == nil {
		clock = shared.NewRealClock()
	}
	return &CircuitBreaker{
		threshold: threshold,
		window:    window,
		coolOff:   coolOff,
		state:     CircuitClosed,
		clock:     clock,
	}
}

// OnStateChange registers a callback for state transitions
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Call executes fn with circuit breaker protection. When the breaker is open
// and the cool-off has not elapsed, fn is not executed and ErrFTPUnavailable
// is returned immediately.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.clock.Now().Sub(cb.lastOpenedAt) < cb.coolOff {
			cb.mu.Unlock()
			return shared.ErrFTPUnavailable
		}
		cb.transition(CircuitHalfOpen)
	}
	cb.mu.Unlock()

	// Execute without holding the lock so long operations don't serialize
	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// Allow reports whether a call would currently be admitted. Used by the pool
// to fail acquisitions fast without consuming a session slot.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return true
	}
	return cb.clock.Now().Sub(cb.lastOpenedAt) >= cb.coolOff
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the number of failures inside the rolling window
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.prune(cb.clock.Now())
	return len(cb.failures)
}

// Reset closes the breaker and clears the failure window
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = nil
	cb.transition(CircuitClosed)
}

func (cb *CircuitBreaker) onFailure() {
	now := cb.clock.Now()
	cb.failures = append(cb.failures, now)
	cb.prune(now)

	if cb.state == CircuitHalfOpen {
		// Failed the recovery probe, reopen
		cb.lastOpenedAt = now
		cb.transition(CircuitOpen)
		return
	}

	if len(cb.failures) >= cb.threshold {
		cb.lastOpenedAt = now
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = nil
	if cb.state == CircuitHalfOpen {
		cb.transition(CircuitClosed)
	}
}

// prune drops failures older than the rolling window. Caller holds the lock.
func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = kept
}

// transition changes state and fires the callback. Caller holds the lock.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}
