// Package resilience wraps every outbound call to an external dependency
// with bounded retry, exponential backoff, and per-dependency circuit
// breaking. Transient faults are absorbed here; callers see either success,
// a non-retryable error, or a fast-fail when the breaker is open.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// defaultMaxAttempts is the retry ceiling per logical call.
	defaultMaxAttempts = 3

	// defaultBaseDelay seeds the exponential backoff.
	defaultBaseDelay = 500 * time.Millisecond

	// defaultMaxDelay caps the computed backoff.
	defaultMaxDelay = 30 * time.Second
)

// HTTPError carries an upstream HTTP failure status so the retry loop can
// classify it. RetryAfter holds the server-supplied retry hint from a 429
// response, zero when absent.
type HTTPError struct {
	Status     int
	RetryAfter time.Duration
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// Retryable reports whether the status is in the retryable set: rate
// limiting and 5xx-equivalent upstream failures.
func (e *HTTPError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable classifies an error as transient-retryable. Timeouts and
// retryable HTTP statuses qualify; every other failure (validation errors,
// other 4xx, malformed responses) propagates immediately without consuming
// retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return false
}

// RetryConfig tunes the retry loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard retry tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// Delay returns the backoff before attempt n (0-indexed):
// min(base << n, max).
func (c RetryConfig) Delay(n int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// retryDelay resolves the delay before retrying after err on attempt n.
// A 429 retry hint, when present, overrides the computed backoff exactly.
func (c RetryConfig) retryDelay(n int, err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusTooManyRequests && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return c.Delay(n)
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping between attempts.
// Non-retryable errors return immediately. The context cancels any pending
// backoff sleep promptly.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, cfg.retryDelay(attempt-1, lastErr)); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// sleep waits for d, returning early with the context error on cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
