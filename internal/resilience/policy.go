package resilience

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Verdict is the outcome of a reconnect decision.
type Verdict int

const (
	Retry Verdict = iota
	GiveUp
)

func (v Verdict) String() string {
	if v == Retry {
		return "retry"
	}
	return "give-up"
}

// Decision tells the caller whether to redial a dropped stream.
type Decision struct {
	Verdict Verdict
	Attempt int           // 1-based index of the retry being authorized
	Max     int           // attempt ceiling the decision was made against
	Delay   time.Duration // wait before issuing the retry; zero means immediately
}

// Label identifies the attempt in logs, e.g. "reconnect 2/3".
func (d Decision) Label() string {
	if d.Verdict == GiveUp {
		return fmt.Sprintf("give up after %d", d.Max)
	}
	return fmt.Sprintf("reconnect %d/%d", d.Attempt, d.Max)
}

// Decide is the pure reconnect rule: retry while attempt < max.
func Decide(attempt, max int) Decision {
	if max <= 0 {
		max = DefaultMaxReconnects
	}
	if attempt < max {
		return Decision{Verdict: Retry, Attempt: attempt + 1, Max: max}
	}
	return Decision{Verdict: GiveUp, Attempt: attempt, Max: max}
}

// Backoff returns the delay to wait before the given 1-based attempt.
type Backoff func(attempt int) time.Duration

// NoBackoff redials immediately.
func NoBackoff(int) time.Duration { return 0 }

// ExponentialBackoff doubles base per attempt, capped at max, with
// jitter*100 percent of spread. A zero base yields NoBackoff.
func ExponentialBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		return NoBackoff
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if jitter < 0 {
		jitter = DefaultJitterFactor
	}
	return func(attempt int) time.Duration {
		shift := min(max0(attempt-1), 6)
		delay := base << shift
		if delay > max {
			delay = max
		}
		spread := float64(delay) * jitter * (rand.Float64() - 0.5)
		return time.Duration(float64(delay) + spread)
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Reconnector carries the attempt counter for one stream session.
type Reconnector struct {
	mu      sync.Mutex
	max     int
	backoff Backoff
	attempt int
}

// NewReconnector creates a policy allowing max consecutive reconnects.
func NewReconnector(max int, backoff Backoff) *Reconnector {
	if max <= 0 {
		max = DefaultMaxReconnects
	}
	if backoff == nil {
		backoff = NoBackoff
	}
	return &Reconnector{max: max, backoff: backoff}
}

// Next records an abnormal closure and decides what to do about it.
// A GiveUp decision resets the counter so a later session starts clean.
func (r *Reconnector) Next() Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := Decide(r.attempt, r.max)
	if d.Verdict == GiveUp {
		r.attempt = 0
		return d
	}
	r.attempt = d.Attempt
	d.Delay = r.backoff(d.Attempt)
	return d
}

// Reset clears the counter after a successful open.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}
