package resilience

import "time"

// Defaults for the backend circuit breaker and the stream reconnect policy.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 1

	DefaultMaxReconnects = 3
	DefaultMaxDelay      = 10 * time.Second
	DefaultJitterFactor  = 0.2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // consecutive transport failures before opening
	ResetTimeout      time.Duration // wait before a half-open probe
	HalfOpenSuccesses int           // probe successes needed to close
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
