// Package httpclient provides an outbound HTTP client with correlation-ID
// propagation, per-destination circuit breaking, an optional fallback target,
// and vendor-call logging.
package httpclient

import (
	"sync"
	"time"

	pkgerrors "Stencil/pkg/errors"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed is normal operation, requests allowed.
	StateClosed State = iota
	// StateOpen fast-fails requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker for a single upstream
// target. All transitions are serialized by the mutex, so concurrent calls
// to the same destination never lose failure counts.
type Breaker struct {
	mu sync.Mutex

	state     State
	threshold int
	cooldown  time.Duration

	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	nowFn func() time.Time
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for cooldown before allowing a single probe.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// State returns the current state, applying the open→half-open transition
// when the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateStateLocked()
}

// Allow reports whether a request may proceed. In half-open state exactly
// one probe is admitted; further calls are rejected until the probe's
// outcome is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.updateStateLocked() {
	case StateOpen:
		return pkgerrors.ErrCircuitOpen
	case StateHalfOpen:
		if b.probeInFlight {
			return pkgerrors.ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess records a successful call. A successful half-open probe
// closes the circuit; in closed state the failure count resets.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.updateStateLocked() {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed call. Reaching the threshold in closed
// state opens the circuit; a failed half-open probe re-opens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.updateStateLocked() {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) updateStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transitionTo(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transitionTo(newState State) {
	b.state = newState
	switch newState {
	case StateClosed:
		b.consecutiveFailures = 0
		b.probeInFlight = false
	case StateOpen:
		b.openedAt = b.now()
		b.consecutiveFailures = 0
		b.probeInFlight = false
	case StateHalfOpen:
		b.probeInFlight = false
	}
}

func (b *Breaker) now() time.Time {
	if b.nowFn != nil {
		return b.nowFn()
	}
	return time.Now()
}

// SetClock overrides the breaker clock, primarily for tests.
func (b *Breaker) SetClock(f func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFn = f
}
