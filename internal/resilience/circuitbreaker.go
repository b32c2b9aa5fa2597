// Package resilience guards calls into the enhancement engine that can fail
// for reasons outside the process, such as a license server outage.
//
// [Breaker] is a three-state circuit breaker: closed (calls pass), open
// (calls are rejected with [ErrCircuitOpen]) and half-open (a few probe calls
// decide whether to close again). It is safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects
// calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	StateClosed State = iota
	StateOpen
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
	}
	return "unknown"
}

// Config tunes a [Breaker]. Zero fields take the defaults noted below.
type Config struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker. Default: 1.
	Probes int

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inflight int // half-open calls not yet finished
	passed   int // half-open calls that succeeded
}

// New creates a closed [Breaker].
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open. While half-open, at most
// Probes calls run at a time; the rest are rejected.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.state, b.inflight, b.passed = StateHalfOpen, 0, 0
		slog.Info("circuit breaker half-open", "name", b.cfg.Name)
	}
	if b.state == StateHalfOpen {
		if b.inflight+b.passed >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.inflight--
	}
	switch {
	case err != nil && (probe || b.state == StateClosed):
		b.failures++
		if probe || b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	case err == nil && probe && b.state == StateHalfOpen:
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.state, b.failures = StateClosed, 0
			slog.Info("circuit breaker closed", "name", b.cfg.Name)
		}
	case err == nil && b.state == StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.cfg.Now()
	slog.Warn("circuit breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.failures, b.inflight, b.passed = StateClosed, 0, 0, 0
}
