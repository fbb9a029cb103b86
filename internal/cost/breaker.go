package cost

import (
	"sync"
	"time"

	"github.com/beaconkb/beacon-backend/internal/observability"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "closed"
	}
}

// Breaker guards the budget-check store query. It opens after a run of
// consecutive failures, short-circuits calls for a reset window, then probes
// through a half-open state that needs a run of consecutive successes to
// close again.
type Breaker struct {
	mu sync.Mutex

	failureThreshold  int
	resetTimeout      time.Duration
	halfOpenSuccesses int

	state      BreakerState
	failures   int
	successes  int
	openedAt   time.Time
	forcedOpen bool

	now func() time.Time
}

func NewBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenSuccesses int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if halfOpenSuccesses <= 0 {
		halfOpenSuccesses = 2
	}
	return &Breaker{
		failureThreshold:  failureThreshold,
		resetTimeout:      resetTimeout,
		halfOpenSuccesses: halfOpenSuccesses,
		now:               time.Now,
	}
}

// Allow reports whether the protected call may proceed. When the reset
// window has elapsed on an open breaker it transitions to half-open and lets
// a probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.forcedOpen {
			return false
		}
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.halfOpenSuccesses {
			b.transition(BreakerClosed)
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes = 0
	switch b.state {
	case BreakerHalfOpen:
		// A half-open probe failing reopens immediately.
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
		}
	}
}

// ForceOpen pins the breaker open until ForceClose. Operator escape hatch;
// callers log this distinctly so "we can't tell" is never mistaken for
// "no one is over budget".
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = true
	b.openedAt = b.now()
	b.transition(BreakerOpen)
}

func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forcedOpen = false
	b.failures = 0
	b.successes = 0
	b.transition(BreakerClosed)
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition assumes b.mu is held.
func (b *Breaker) transition(next BreakerState) {
	b.state = next
	if next != BreakerHalfOpen {
		b.successes = 0
	}
	if next != BreakerOpen {
		b.failures = 0
	}
	observability.BreakerState.Set(float64(next))
}
