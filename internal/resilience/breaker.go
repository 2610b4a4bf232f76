// Package resilience protects calls to agent runtimes and generation
// backends: a circuit breaker per remote and a semaphore pool bounding
// concurrent backend invocations.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	}
	return "closed"
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithTrip decides which errors count as failures of the remote side. The
// default counts every error except caller cancellation.
func WithTrip(fn func(error) bool) Option {
	return func(b *Breaker) { b.trips = fn }
}

// WithStateChange replaces the default transition logging.
func WithStateChange(fn func(name, from, to string)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker opens after maxFailures consecutive failures and rejects calls for
// timeout. It then lets a single trial through: success closes it, failure
// opens it again.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       state
	failures    int
	probing     bool
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	trips       func(error) bool
	onChange    func(name, from, to string)
	now         func() time.Time
}

// NewBreaker creates a closed breaker. maxFailures below one is raised to one.
func NewBreaker(name string, maxFailures int, timeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: max(maxFailures, 1),
		timeout:     timeout,
		trips:       defaultTrip,
		onChange:    logTransition,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func defaultTrip(err error) bool { return !errors.Is(err, context.Canceled) }

func logTransition(name, from, to string) {
	if to == stateOpen.String() {
		slog.Warn("circuit breaker opened", "breaker", name, "from", from)
		return
	}
	slog.Info("circuit breaker state changed", "breaker", name, "from", from, "to", to)
}

// Name identifies the protected remote.
func (b *Breaker) Name() string { return b.name }

// State reports "closed", "open" or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// Execute runs fn unless the breaker is open or a half-open trial is already
// in flight, in which case it returns ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	trial, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	from := b.state
	if trial {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.state = stateClosed
	case b.trips(err):
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.onChange(b.name, from.String(), to.String())
	}
	return err
}

// admit reports whether a call may proceed and whether it is the half-open
// trial.
func (b *Breaker) admit() (trial, ok bool) {
	b.mu.Lock()
	var changed bool
	defer func() {
		b.mu.Unlock()
		if changed {
			b.onChange(b.name, stateOpen.String(), stateHalfOpen.String())
		}
	}()

	switch b.state {
	case stateClosed:
		return false, true
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false, false
		}
		b.state = stateHalfOpen
		changed = true
	}
	if b.probing {
		return false, false
	}
	b.probing = true
	return true, true
}
