package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestBreakerInitialState(t *testing.T) {
	b := New(DefaultConfig(), nil)
	if b.State() != Closed {
		t.Errorf("initial state = %v, want Closed", b.State())
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: time.Hour, HalfOpenSuccesses: 1}, nil)

	for i := 0; i < 3; i++ {
		b.Record(errTransient)
	}

	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
	if err := b.Allow(); err != ErrOpen {
		t.Errorf("Allow() = %v, want ErrOpen", err)
	}
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	notFound := errors.New("not found")
	b := New(Config{Threshold: 1, ResetTimeout: time.Hour}, func(err error) bool {
		return err == errTransient
	})

	b.Record(notFound)
	b.Record(notFound)

	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerHalfOpenThenClosed(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 2}, nil)
	b.Record(errTransient)

	time.Sleep(5 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
	if b.State() != HalfOpen {
		t.Errorf("state = %v, want HalfOpen", b.State())
	}

	b.Record(nil)
	b.Record(nil)

	if b.State() != Closed {
		t.Errorf("state = %v, want Closed", b.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 3}, nil)
	b.Record(errTransient)

	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()

	b.Record(errTransient)

	if b.State() != Open {
		t.Errorf("state = %v, want Open", b.State())
	}
}

func TestBreakerDo(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Hour}, nil)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("Do success = %v, want nil", err)
	}
	if err := b.Do(func() error { return errTransient }); err != errTransient {
		t.Errorf("Do failure = %v, want %v", err, errTransient)
	}

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	if err != ErrOpen || calls != 0 {
		t.Errorf("Do while open = (%v, calls=%d), want (ErrOpen, 0)", err, calls)
	}
}

func TestBreakerHook(t *testing.T) {
	var transitions []State
	b := New(Config{Threshold: 1, ResetTimeout: time.Millisecond, HalfOpenSuccesses: 1}, nil)
	b.WithHook(func(_, to State) { transitions = append(transitions, to) })

	b.Record(errTransient)
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow()
	b.Record(nil)

	want := []State{Open, HalfOpen, Closed}
	if len(transitions) != len(want) {
		t.Fatalf("got %v transitions, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreakerConcurrentSafety(t *testing.T) {
	b := New(Config{Threshold: 100, ResetTimeout: time.Second, HalfOpenSuccesses: 10}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(func() error {
				if i%2 == 0 {
					return nil
				}
				return errTransient
			})
		}()
	}
	wg.Wait()

	_ = b.State()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
	}

	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %d, want %d", cfg.Threshold, DefaultThreshold)
	}
	if cfg.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", cfg.ResetTimeout, DefaultResetTimeout)
	}
	if cfg.HalfOpenSuccesses != DefaultHalfOpenSuccesses {
		t.Errorf("HalfOpenSuccesses = %d, want %d", cfg.HalfOpenSuccesses, DefaultHalfOpenSuccesses)
	}
}
