package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry defaults; overridable through config.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxAttempts  = 3
	defaultBackoffBase  = 500 * time.Millisecond
	defaultBackoffCap   = 10 * time.Second
)

// RetryingFetcher wraps a Fetcher with a per-attempt timeout and capped
// exponential backoff. Validation failures never reach this layer; only
// transport-level fetch errors are retried.
type RetryingFetcher struct {
	inner       Fetcher
	timeout     time.Duration
	maxAttempts int
	log         *slog.Logger
}

// NewRetryingFetcher wraps inner. Zero timeout or attempts fall back to
// the defaults.
func NewRetryingFetcher(inner Fetcher, timeout time.Duration, maxAttempts int, log *slog.Logger) *RetryingFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &RetryingFetcher{inner: inner, timeout: timeout, maxAttempts: maxAttempts, log: log}
}

// FetchWindows attempts the query up to maxAttempts times. Context
// cancellation aborts immediately; exhausted retries return the last error.
func (f *RetryingFetcher) FetchWindows(ctx context.Context, q Query) ([]WindowRow, error) {
	var lastErr error
	backoff := defaultBackoffBase

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		rows, err := f.inner.FetchWindows(attemptCtx, q)
		cancel()
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < f.maxAttempts {
			f.log.Warn("warehouse fetch failed, retrying",
				"attempt", attempt,
				"max_attempts", f.maxAttempts,
				"backoff", backoff.String(),
				"error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > defaultBackoffCap {
				backoff = defaultBackoffCap
			}
		}
	}
	return nil, fmt.Errorf("warehouse fetch failed after %d attempts: %w", f.maxAttempts, lastErr)
}
