package schedule

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds the backoff applied to failing jobs.
type RetryConfig struct {
	MaxRetries int           // extra attempts after the first failure, 0 disables retry
	BaseDelay  time.Duration // first backoff step
	MaxDelay   time.Duration // backoff ceiling
}

// DefaultRetryConfig returns the standard three-attempt backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// runWithRetry executes fn with exponential backoff between failures.
// It returns the first success, or the last error once retries are spent
// or ctx ends. attempts counts calls actually made.
func runWithRetry(ctx context.Context, fn func() (string, error), cfg RetryConfig) (result string, attempts int, err error) {
	for attempt := 0; ; attempt++ {
		result, err = fn()
		if err == nil {
			return result, attempt + 1, nil
		}
		if attempt >= cfg.MaxRetries {
			return "", attempt + 1, err
		}
		select {
		case <-time.After(backoffDelay(cfg, attempt)):
		case <-ctx.Done():
			return "", attempt + 1, err
		}
	}
}

// backoffDelay doubles BaseDelay per attempt, caps at MaxDelay, and adds
// up to 25% jitter either way.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	if quarter := delay / 4; quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(2*quarter))) - quarter
	}
	return delay
}
