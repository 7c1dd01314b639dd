package resilience

import (
	"context"
	"time"
)

// RetryConfig is the back-off policy for retried provider calls.
type RetryConfig struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction spreads each delay by up to ±fraction of itself.
	JitterFraction float64

	// ShouldRetry decides which errors are retried. Defaults to IsTransient,
	// which leaves rate limits to the caller.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait with the 1-based retry number.
	OnRetry func(attempt int, err error)

	// Sleep waits between attempts. It must return ctx.Err() when ctx ends
	// first. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns the policy for ordinary provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// RateLimitedExecuteConfig builds the retry policy used when a caller opts
// into retrying rate-limited job submissions.
func RateLimitedExecuteConfig(maxAttempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	cfg.InitialBackoff = 2 * time.Second
	cfg.MaxBackoff = time.Minute
	cfg.ShouldRetry = IsRetryableWithRateLimit
	return cfg
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsTransient
	}
	if cfg.Sleep == nil {
		cfg.Sleep = timerSleep
	}
	return cfg
}

func timerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
