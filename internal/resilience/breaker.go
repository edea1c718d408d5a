// Package resilience provides the fault tolerance rules used against the backend:
// the reconnect policy for the live stream and a circuit breaker for HTTP calls.
package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // Normal operation
	Open                  // Failing fast
	HalfOpen              // Probing recovery
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker trips after consecutive failures that the classifier counts.
type Breaker struct {
	cfg         Config
	counts      func(error) bool
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nano
	onChange    func(from, to State)
}

// New creates a breaker. counts decides which errors are failures; nil counts every error.
func New(cfg Config, counts func(error) bool) *Breaker {
	if counts == nil {
		counts = func(err error) bool { return err != nil }
	}
	b := &Breaker{cfg: cfg.withDefaults(), counts: counts}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook sets a state change callback.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.onChange = fn
	return b
}

// Allow returns nil if a call may proceed.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	last := b.lastFailure.Load()
	if last == 0 || time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout {
		b.transition(HalfOpen)
		return nil
	}
	return ErrOpen
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(err error) {
	if err == nil || !b.counts(err) {
		b.success()
		return
	}
	b.failure()
}

func (b *Breaker) success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

func (b *Breaker) failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns current state
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.transition(Closed)
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		slog.Info("backend breaker closed")
	case Open:
		b.successes.Store(0)
		slog.Warn("backend breaker opened", "failures", b.failures.Load())
	case HalfOpen:
		b.successes.Store(0)
		slog.Info("backend breaker half-open")
	}

	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// Do runs fn under breaker protection.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}
