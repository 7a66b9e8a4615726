// Package resilience guards calls into persistence backends that may hang or
// fail repeatedly.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the position of a Breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets one trial call through.
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

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// StateListener observes breaker transitions.
type StateListener func(from, to State)

// Breaker stops calling a failing backend after maxFailures consecutive
// errors and retries it once per cooldown.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	listener    StateListener
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithStateListener registers fn for every state change. It runs without the
// breaker lock held.
func WithStateListener(fn StateListener) BreakerOption {
	return func(b *Breaker) { b.listener = fn }
}

// NewBreaker returns a closed breaker. maxFailures below 1 is treated as 1.
func NewBreaker(maxFailures int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	b := &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute calls fn unless the breaker is open. While half-open only one
// caller runs the trial; concurrent callers get ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trial = true
	case StateHalfOpen:
		if b.trial {
			b.mu.Unlock()
			return ErrOpen
		}
		b.trial = true
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	switch {
	case err == nil:
		b.state = StateClosed
		b.failures = 0
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	default:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
	b.trial = false
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.listener != nil {
		b.listener(from, to)
	}
}

// State returns the current state. An open breaker whose cooldown elapsed
// still reports open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.trial = false
	b.mu.Unlock()
	b.notify(from, StateClosed)
}
