package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

func newTestBreaker(threshold int, recovery time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: threshold, RecoveryTimeout: recovery})
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_OpenRejectsBeforeRecoveryTimeout(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(30 * time.Second)
	err := b.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow(), "first call after the timeout is the probe")
	assert.Equal(t, BreakerHalfOpen, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, domain.ErrBreakerOpen, "only one probe is admitted while half-open")
}

func TestBreaker_ProbeSuccessResetsToClosed(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_ProbeFailureReopensWithFreshWindow(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	// Still inside the fresh recovery window.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, b.Allow(), domain.ErrBreakerOpen)

	// A new probe is admitted after the full timeout.
	*now = now.Add(time.Minute)
	assert.NoError(t, b.Allow())
}

func TestBreaker_ReleasedProbeAdmitsNextCaller(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.RecordFailure()

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	// The probe ended without a verdict; the permit must come back.
	b.ReleaseProbe()
	require.NoError(t, b.Allow(), "next caller takes over the probe")
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestClient_ReportsToBreakerOncePerLogicalCall(t *testing.T) {
	c := NewClient(
		RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute},
		slog.New(slog.DiscardHandler),
	)

	// One logical call with three failing attempts counts as one breaker failure.
	calls := 0
	err := c.Do(context.Background(), "venue", func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, BreakerClosed, c.BreakerState("venue"), "one logical failure must not trip a threshold of two")

	// A second failing call trips the breaker.
	_ = c.Do(context.Background(), "venue", func(ctx context.Context) error {
		return &HTTPError{Status: 503}
	})
	assert.Equal(t, BreakerOpen, c.BreakerState("venue"))

	// While open, calls fail fast without executing fn.
	executed := false
	err = c.Do(context.Background(), "venue", func(ctx context.Context) error {
		executed = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.False(t, executed, "open breaker must reject before any network attempt")
}

func TestClient_IndependentBreakersPerDependency(t *testing.T) {
	c := NewClient(
		RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		slog.New(slog.DiscardHandler),
	)

	_ = c.Do(context.Background(), "scoreboard", func(ctx context.Context) error {
		return &HTTPError{Status: 500}
	})
	assert.Equal(t, BreakerOpen, c.BreakerState("scoreboard"))
	assert.Equal(t, BreakerClosed, c.BreakerState("venue"))

	err := c.Do(context.Background(), "venue", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestClient_CancelledProbeDoesNotWedgeBreaker(t *testing.T) {
	c := NewClient(
		RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		slog.New(slog.DiscardHandler),
	)

	_ = c.Do(context.Background(), "venue", func(ctx context.Context) error {
		return &HTTPError{Status: 500}
	})
	require.Equal(t, BreakerOpen, c.BreakerState("venue"))

	// Move past the recovery timeout, then cancel the probe mid-call.
	now := time.Now().Add(2 * time.Minute)
	c.breakerFor("venue").now = func() time.Time { return now }

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Do(ctx, "venue", func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)

	// The dependency recovered; the next call must be admitted as the new
	// probe and close the breaker.
	executed := false
	err = c.Do(context.Background(), "venue", func(ctx context.Context) error {
		executed = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, executed, "recovered dependency must be reachable after a cancelled probe")
	assert.Equal(t, BreakerClosed, c.BreakerState("venue"))
}

func TestClient_CancellationIsNotADependencyFault(t *testing.T) {
	c := NewClient(
		RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute},
		slog.New(slog.DiscardHandler),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Do(ctx, "venue", func(ctx context.Context) error {
		return ctx.Err()
	})
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, BreakerClosed, c.BreakerState("venue"))
}
