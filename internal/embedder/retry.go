package embedder

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds how remote providers retry a failed embedding call
type RetryConfig struct {
	MaxAttempts int           // Including the first call
	BaseDelay   time.Duration // Wait after the first failure
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig allows three attempts, waiting 100ms then 200ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval: c.BaseDelay,
		Multiplier:      c.Multiplier,
		MaxInterval:     c.MaxDelay,
	}
}

// withRetry runs call until it succeeds, returns a backoff.Permanent error,
// or runs out of attempts. Cancelling ctx stops the wait between attempts.
func withRetry[T any](ctx context.Context, cfg RetryConfig, call func() (T, error)) (T, error) {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return backoff.Retry(ctx, call,
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// classifyStatus wraps an API error by how a retry should treat it: client
// errors are permanent, 429 honors Retry-After, anything else retries
// with backoff
func classifyStatus(err error, status int, header http.Header) error {
	switch {
	case status == http.StatusTooManyRequests:
		if secs, perr := strconv.Atoi(header.Get("Retry-After")); perr == nil && secs > 0 {
			return backoff.RetryAfter(secs)
		}
		return err
	case status >= 500 || status == 0:
		return err
	default:
		return backoff.Permanent(err)
	}
}
