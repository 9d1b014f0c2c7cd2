// Package infra provides shared infrastructure primitives: per-tool circuit
// breakers and a bounded worker pool with graceful shutdown.
package infra

import (
	"sync"
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 60 * time.Second
)

// CircuitBreaker tracks consecutive failures for one tool. After
// failureThreshold consecutive failures it opens; once recoveryTimeout has
// elapsed the next state read moves it to half-open, where a single success
// closes it and a single failure reopens it.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               string
	consecutiveFailures int
	failureThreshold    int
	recoveryTimeout     time.Duration
	lastFailureAt       time.Time
	now                 func() time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments select
// the defaults.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// SetClock injects the time source, used by tests.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// State returns the current state, applying the open -> half-open
// transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() string {
	if cb.state == CircuitOpen && cb.now().Sub(cb.lastFailureAt) >= cb.recoveryTimeout {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}

// Allow reports whether a call may proceed right now.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != CircuitOpen
}

// RecordSuccess resets the failure count; a half-open breaker closes.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count; a closed breaker opens at the
// threshold and a half-open breaker reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureAt = cb.now()

	switch cb.stateLocked() {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

// Reset forces the breaker closed and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
}

// Stats is a point-in-time breaker snapshot.
type Stats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Available           bool   `json:"available"`
}

// Stats returns the breaker snapshot, applying the recovery transition.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state := cb.stateLocked()
	return Stats{
		State:               state,
		ConsecutiveFailures: cb.consecutiveFailures,
		Available:           state != CircuitOpen,
	}
}

// BreakerRegistry manages one breaker per tool name.
type BreakerRegistry struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	recoveryTimeout  time.Duration
	clock            func() time.Time
}

// NewBreakerRegistry creates a registry with shared breaker tuning.
func NewBreakerRegistry(failureThreshold int, recoveryTimeout time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// SetClock injects the time source for all current and future breakers.
func (r *BreakerRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = now
	for _, cb := range r.breakers {
		cb.SetClock(now)
	}
}

// Get returns or creates the breaker for a tool.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(r.failureThreshold, r.recoveryTimeout)
		if r.clock != nil {
			cb.SetClock(r.clock)
		}
		r.breakers[name] = cb
	}
	return cb
}

// Snapshot returns per-tool stats for every known breaker.
func (r *BreakerRegistry) Snapshot() map[string]Stats {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for name, cb := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(names))
	for i, cb := range breakers {
		out[names[i]] = cb.Stats()
	}
	return out
}

// Reset forces one breaker closed if it exists.
func (r *BreakerRegistry) Reset(name string) {
	r.mu.Lock()
	cb := r.breakers[name]
	r.mu.Unlock()
	if cb != nil {
		cb.Reset()
	}
}

// ResetAll forces every breaker closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()
	for _, cb := range breakers {
		cb.Reset()
	}
}
