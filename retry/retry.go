// Package retry re-runs backend probes with exponential backoff and jitter.
// Tiers use it while detecting availability, where a backend that is still
// starting up should not be written off on the first refused connection.
package retry

import (
	"context"
	"time"
)

// Config controls the behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of calls to fn, the first included.
	// Values ≤ 1 mean a single attempt.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; later retries wait
	// BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Jitter is the ± fraction of randomness applied to each delay.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool
}

// Probe is the configuration tiers use for their startup checks.
func Probe() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Jitter:      0.2,
	}
}

// Do calls fn until it succeeds, the error is not retryable, attempts run
// out, or ctx is done. The last error is returned as-is.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		timer := time.NewTimer(backoff(cfg, i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
