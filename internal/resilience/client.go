package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Client composes the retry loop with per-dependency circuit breakers. A
// call first checks the breaker, then runs the retry loop, then reports the
// outcome to the breaker exactly once per logical call, never per attempt.
type Client struct {
	retry   RetryConfig
	breaker BreakerConfig
	logger  *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewClient creates a Client with the given tuning. Breakers are created
// lazily, one per dependency name.
func NewClient(retry RetryConfig, breaker BreakerConfig, logger *slog.Logger) *Client {
	return &Client{
		retry:    retry,
		breaker:  breaker,
		logger:   logger.With(slog.String("component", "resilient_client")),
		breakers: make(map[string]*Breaker),
	}
}

// breakerFor returns the shared breaker for a dependency, creating it on
// first use.
func (c *Client) breakerFor(dep string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[dep]
	if !ok {
		b = NewBreaker(dep, c.breaker)
		c.breakers[dep] = b
	}
	return b
}

// Do executes fn against the named dependency. When the breaker is open the
// call fails fast with domain.ErrBreakerOpen and no network attempt is made.
// Non-retryable errors count as a single breaker failure; retryable errors
// are retried with backoff and count once if the whole loop fails.
func (c *Client) Do(ctx context.Context, dep string, fn func(ctx context.Context) error) error {
	b := c.breakerFor(dep)

	if err := b.Allow(); err != nil {
		c.logger.DebugContext(ctx, "breaker rejected call", slog.String("dependency", dep))
		return err
	}

	err := Retry(ctx, c.retry, fn)
	if err != nil {
		// Context cancellation is not a dependency fault. A cancelled
		// half-open probe must hand its permit back or the breaker can
		// never close again.
		if errors.Is(err, context.Canceled) {
			b.ReleaseProbe()
			return err
		}
		b.RecordFailure()
		c.logger.WarnContext(ctx, "dependency call failed",
			slog.String("dependency", dep),
			slog.String("breaker_state", string(b.State())),
			slog.String("error", err.Error()),
		)
		return err
	}

	b.RecordSuccess()
	return nil
}

// BreakerState returns the current state of the named dependency's breaker.
func (c *Client) BreakerState(dep string) BreakerState {
	return c.breakerFor(dep).State()
}

// Open reports whether the named dependency is currently failing fast.
// Callers use this to degrade gracefully, e.g. skip a poll cycle while
// keeping last-known state.
func (c *Client) Open(dep string) bool {
	return c.breakerFor(dep).State() == BreakerOpen
}
