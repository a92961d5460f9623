package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// BaselineTracker captures the reference price for each tracked market
// exactly once. The baseline is the first observed price after tracking
// begins, pre-game or mid-game alike, and never changes for the lifetime
// of the TrackedMarket instance. Untracking and re-tracking produces a new
// instance with a fresh baseline.
type BaselineTracker struct {
	logger *slog.Logger
}

// NewBaselineTracker creates a baseline tracker.
func NewBaselineTracker(logger *slog.Logger) *BaselineTracker {
	return &BaselineTracker{
		logger: logger.With(slog.String("component", "baseline")),
	}
}

// Capture records the baseline on first observation. A second capture
// attempt returns ErrBaselineSet and leaves the stored value untouched.
func (b *BaselineTracker) Capture(tm *domain.TrackedMarket, price float64, at time.Time) error {
	if tm.HasBaseline() {
		return fmt.Errorf("engine: market %s: %w", tm.ID, domain.ErrBaselineSet)
	}
	if price <= 0 || price >= 1 {
		return fmt.Errorf("engine: market %s: baseline price %v out of range", tm.ID, price)
	}
	tm.BaselinePrice = price
	ts := at.UTC()
	tm.BaselineAt = &ts
	b.logger.Info("baseline captured",
		slog.String("tracked_market_id", tm.ID),
		slog.String("condition_id", tm.Instrument.ConditionID),
		slog.Float64("price", price))
	return nil
}

// SideBaseline derives the reference price for one side of the market.
// The stored baseline is the yes-outcome price; the no side mirrors it.
func SideBaseline(tm domain.TrackedMarket, side domain.PositionSide) float64 {
	if side == domain.PositionSideNo {
		return 1 - tm.BaselinePrice
	}
	return tm.BaselinePrice
}
