// Package resilience keeps transcription running when a speech-to-text
// backend degrades.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// stops calling a backend after repeated failures and probes it again once a
// cool-down has passed. [Transcriber] chains several [stt.Transcriber]
// backends, each behind its own breaker, and answers with the first one that
// succeeds.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerOption configures a [Breaker].
type BreakerOption func(*Breaker)

// WithMaxFailures sets how many consecutive failures open the breaker.
// Defaults to 3.
func WithMaxFailures(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
// Defaults to 30s.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many successful half-open calls close the breaker.
// Defaults to 1.
func WithProbes(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithBreakerClock replaces time.Now. Used by tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// Breaker guards calls to a single backend.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	passed   int
}

// NewBreaker returns a closed breaker. name appears in log output.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: 3,
		cooldown:    30 * time.Second,
		probes:      1,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the label given to [NewBreaker].
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open. Errors caused by the caller
// cancelling ctx are returned but do not count as backend failures.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.inFlight--
	}
	switch {
	case err == nil:
		b.succeed(probe)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
	default:
		b.fail(probe)
	}
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.passed = 0
		slog.Info("resilience: breaker half-open", "backend", b.name)
	}
	if b.state == StateHalfOpen {
		if b.inFlight >= b.probes {
			return false, ErrCircuitOpen
		}
		b.inFlight++
		return true, nil
	}
	return false, nil
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(probe bool) {
	b.failures = 0
	if !probe || b.state != StateHalfOpen {
		return
	}
	b.passed++
	if b.passed >= b.probes {
		b.state = StateClosed
		b.passed = 0
		slog.Info("resilience: breaker closed", "backend", b.name)
	}
}

// fail must be called with b.mu held.
func (b *Breaker) fail(probe bool) {
	if probe {
		b.trip()
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.passed = 0
	slog.Warn("resilience: breaker opened",
		"backend", b.name,
		"consecutive_failures", b.failures,
		"cooldown", b.cooldown,
	)
}

// State reports the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.passed = 0
}
