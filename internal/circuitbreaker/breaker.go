// Package circuitbreaker guards calls to external dependencies (the
// chain node, the remote SafeChat scanner) so that a failing provider
// degrades to a fallback instead of cascading into request handlers.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // threshold exceeded, calls short-circuit
	StateHalfOpen              // probing whether the provider recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when the breaker refuses a call.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes one breaker.
type Config struct {
	Name string

	// FailureThreshold failures within Window trip the breaker.
	FailureThreshold int
	Window           time.Duration

	// OpenFor is how long calls short-circuit before a half-open probe.
	OpenFor time.Duration

	// HalfOpenProbes successful probes close the breaker again.
	HalfOpenProbes int
}

// Breaker is a windowed-failure circuit breaker.
type Breaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  []time.Time // failure timestamps inside the window
	openedAt  time.Time
	probeWins int
	logger    *log.Logger
}

// New creates a breaker; zero config fields get defaults.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		logger: log.New(log.Writer(), "[BREAKER:"+cfg.Name+"] ", log.LstdFlags),
	}
}

// Allow reports whether a call may proceed right now. Half-open allows
// a single probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(time.Now()) {
	case StateOpen:
		return ErrOpen
	default:
		return nil
	}
}

// Record reports the outcome of a call made after Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.stateLocked(now)

	if success {
		if state == StateHalfOpen {
			b.probeWins++
			if b.probeWins >= b.cfg.HalfOpenProbes {
				b.setState(StateClosed, now)
			}
		}
		return
	}

	switch state {
	case StateHalfOpen:
		b.setState(StateOpen, now)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.setState(StateOpen, now)
		}
	}
}

// Do runs fn under the breaker; when the breaker is open (or fn fails)
// and a fallback is given, the fallback result is returned instead.
func Do[T any](b *Breaker, fn func() (T, error), fallback func(error) (T, error)) (T, error) {
	if err := b.Allow(); err != nil {
		if fallback != nil {
			return fallback(err)
		}
		var zero T
		return zero, err
	}
	out, err := fn()
	b.Record(err == nil)
	if err != nil && fallback != nil {
		return fallback(err)
	}
	return out, err
}

// State returns the current state, advancing open->half-open on expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.OpenFor {
		b.setState(StateHalfOpen, now)
	}
	if b.state == StateClosed {
		b.pruneLocked(now)
	}
	return b.state
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) setState(s State, now time.Time) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	switch s {
	case StateOpen:
		b.openedAt = now
		b.failures = nil
	case StateClosed, StateHalfOpen:
		b.probeWins = 0
		b.failures = nil
	}
	b.logger.Printf("state change: %s -> %s", prev, s)
}
