package resilience

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts int           // retries after the first attempt
	BaseWait    time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // 0.0-1.0

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseWait:    time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// Retry runs fn until it succeeds, the attempts run out or ctx is done.
// The last error is returned when every attempt failed.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		wait := Backoff(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}

	return zero, lastErr
}

// Backoff returns the jittered exponential wait before retry attempt+1.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	wait := float64(cfg.BaseWait)
	for i := 0; i < attempt; i++ {
		wait *= cfg.Multiplier
	}
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}

	if cfg.Jitter > 0 {
		jitterRange := wait * cfg.Jitter
		if int64(jitterRange*2) > 0 {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(jitterRange*2)))
			if err == nil {
				wait += float64(n.Int64()) - jitterRange
			}
		}
	}

	return time.Duration(wait)
}
