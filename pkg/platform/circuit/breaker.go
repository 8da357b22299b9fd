// Package circuit provides a minimal failure-counting circuit breaker used
// for best-effort downstream forwarding. A breaker never affects core
// correctness; it only decides whether a fallback path should be used.
package circuit

import "sync"

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
)

// Change reports a state transition resulting from a recorded outcome.
type Change struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive failures/successes and flips between closed and
// open when the configured thresholds are crossed.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	successThreshold int

	state     State
	failures  int
	successes int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures that opens
// the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the number of consecutive successes that closes
// an open circuit.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// New constructs a closed breaker with default thresholds (5 failures to
// open, 1 success to close).
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's identifier (used in logs and metrics).
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the circuit is open (fallback in use).
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// RecordFailure records a failed primary-path attempt. It returns whether
// the fallback should be used and any state transition that occurred.
func (b *Breaker) RecordFailure() (useFallback bool, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	if b.state == StateOpen {
		return true, Change{}
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
		b.failures = 0
		return true, Change{Opened: true}
	}
	return false, Change{}
}

// RecordSuccess records a successful attempt. For an open circuit it counts
// toward closing; it returns whether the primary path should be used and any
// state transition.
func (b *Breaker) RecordSuccess() (usePrimary bool, change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateClosed {
		return true, Change{}
	}

	b.successes++
	if b.successes >= b.successThreshold {
		b.state = StateClosed
		b.successes = 0
		return true, Change{Closed: true}
	}
	return false, Change{}
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
