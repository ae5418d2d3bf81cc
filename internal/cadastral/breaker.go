package cadastral

import (
	"sync"
	"time"
)

// State is a circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

const (
	DefaultFailureThreshold = 2
	DefaultCooldown         = 5 * time.Minute
)

// Breaker stops calls to an unhealthy upstream for a cooldown period.
// All bookkeeping happens under mu; callers never hold it across a request.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to State)

	state       State
	failures    int
	lastFailure time.Time
	trial       bool // a half-open trial call is in flight
}

// BreakerOption configures a Breaker
type BreakerOption func(*Breaker)

// WithClock replaces time.Now, used by tests to step over the cooldown
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a callback invoked on every transition. It runs
// under the breaker lock and must not call back into the breaker.
func WithStateChange(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// NewBreaker creates a closed breaker. Non-positive arguments fall back to defaults.
func NewBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may go to the upstream. In OPEN it moves to
// HALF_OPEN once the cooldown has elapsed and admits that single call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.now().After(b.lastFailure.Add(b.cooldown)) {
			return false
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return true
	case StateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure counter
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trial = false
	b.transition(StateClosed)
}

// RecordFailure counts a failure. A failed half-open trial reopens the circuit
// immediately; otherwise the circuit opens once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trial = false
		b.lastFailure = b.now()
		b.transition(StateOpen)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.lastFailure = b.now()
		b.transition(StateOpen)
	}
}

// Release gives back a half-open trial slot for a call that ended without an
// outcome, such as one cancelled by its caller.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
