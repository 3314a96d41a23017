// Package resilience provides reliability patterns for payment provider calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects provider calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker states as reported by State.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Breaker stops calling the payment provider after maxFailures consecutive
// provider faults and lets a single probe through once cooldown elapses.
// Declines (insufficient funds, payee rejected) are answers from a healthy
// provider; a trip classifier keeps them from opening the circuit.
type Breaker struct {
	mu          sync.Mutex
	state       string
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	trips       func(error) bool
	now         func() time.Time
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and half-opens after cooldown. Every error counts until
// WithTrips installs a classifier.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		trips:       func(error) bool { return true },
		now:         time.Now,
	}
}

// WithTrips sets the predicate deciding which errors count as failures.
// Errors it rejects are returned to the caller and count as a success.
func (b *Breaker) WithTrips(fn func(error) bool) *Breaker {
	if fn != nil {
		b.trips = fn
	}
	return b
}

// State reports StateClosed, StateOpen or StateHalfOpen. An open breaker
// whose cooldown has elapsed reports StateHalfOpen.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooled() {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the circuit is open. A nil Breaker runs fn directly.
func (b *Breaker) Execute(fn func() error) error {
	if b == nil {
		return fn()
	}
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}
	if !b.cooled() {
		return false
	}
	b.state = StateHalfOpen
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.trips(err) {
		b.failures = 0
		b.state = StateClosed
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// cooled must be called with b.mu held.
func (b *Breaker) cooled() bool {
	return b.now().Sub(b.openedAt) >= b.cooldown
}
