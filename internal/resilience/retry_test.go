package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_ExponentialWithCap(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second}, // capped
		{10, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Delay(tt.n), "attempt %d", tt.n)
	}
}

func TestRetryDelay_429HintOverrides(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

	hinted := &HTTPError{Status: http.StatusTooManyRequests, RetryAfter: 7 * time.Second}
	assert.Equal(t, 7*time.Second, cfg.retryDelay(0, hinted))

	// No hint falls back to the computed backoff.
	plain := &HTTPError{Status: http.StatusTooManyRequests}
	assert.Equal(t, 200*time.Millisecond, cfg.retryDelay(1, plain))

	// A hint on a non-429 status is ignored.
	wrongStatus := &HTTPError{Status: http.StatusServiceUnavailable, RetryAfter: 7 * time.Second}
	assert.Equal(t, 100*time.Millisecond, cfg.retryDelay(0, wrongStatus))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&HTTPError{Status: 429}))
	assert.True(t, IsRetryable(&HTTPError{Status: 500}))
	assert.True(t, IsRetryable(&HTTPError{Status: 502}))
	assert.True(t, IsRetryable(&HTTPError{Status: 503}))
	assert.True(t, IsRetryable(&HTTPError{Status: 504}))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&HTTPError{Status: 400}))
	assert.False(t, IsRetryable(&HTTPError{Status: 404}))
	assert.False(t, IsRetryable(errors.New("malformed response")))
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not consume retry budget")
}

func TestRetry_ExhaustsBudgetThenReturnsLastError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 503, httpErr.Status)
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPError{Status: 500}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelsBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		return &HTTPError{Status: 500}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "cancellation must interrupt the backoff sleep promptly")
}
