package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const MaxRetries = 3

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable()
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// backoffFunc is swapped in tests.
var backoffFunc = Backoff

// Retry runs fn until it succeeds, returns a non-retryable error, or
// MaxRetries retries have been spent.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffFunc(attempt)):
		}
	}
	return err
}
