package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// BreakerState is the circuit breaker finite state machine state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	// defaultFailureThreshold trips the breaker after this many consecutive
	// failures.
	defaultFailureThreshold = 5

	// defaultRecoveryTimeout is how long an open breaker rejects calls
	// before allowing a probe.
	defaultRecoveryTimeout = 30 * time.Second
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: defaultFailureThreshold,
		RecoveryTimeout:  defaultRecoveryTimeout,
	}
}

// Breaker is a per-dependency circuit breaker. All transitions go through a
// single mutation point guarded by the mutex, so concurrent callers of the
// same dependency observe a consistent state.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	probeInFlight bool

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a closed Breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = defaultRecoveryTimeout
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. While open it fails fast with
// domain.ErrBreakerOpen until the recovery timeout elapses, at which point
// the breaker moves to half-open and admits exactly one probe call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return fmt.Errorf("resilience: %s: %w", b.name, domain.ErrBreakerOpen)
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("resilience: %s: %w", b.name, domain.ErrBreakerOpen)
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful logical call. A half-open probe success
// closes the breaker and resets the failure count to zero.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// ReleaseProbe returns the half-open probe permit without a verdict. A
// probe whose call ends in cancellation says nothing about the dependency's
// health, so the next caller gets to probe instead.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
	}
}

// RecordFailure reports a failed logical call. The breaker opens after the
// configured threshold of consecutive failures, or immediately when a
// half-open probe fails, starting a fresh recovery window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.probeInFlight = false
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
