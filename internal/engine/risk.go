package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// riskInputs is the engine's view of current exposure when an entry is
// being considered.
type riskInputs struct {
	marketPositions int     // non-closed positions for this market
	totalPositions  int     // non-closed positions across all markets
	totalExposure   float64 // open cost across all markets
	newCost         float64 // cost of the proposed entry
}

// RiskManager enforces the operator's caps before any entry. A blocked
// entry is not a fault: the engine logs, emits a risk alert, and skips
// the cycle.
type RiskManager struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewRiskManager creates a risk manager.
func NewRiskManager(positions domain.PositionStore, logger *slog.Logger) *RiskManager {
	return &RiskManager{
		positions: positions,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// AllowEntry returns a wrapped ErrRiskLimit naming the first violated cap,
// or nil when the entry is within every limit. Zero-valued caps are
// treated as unset and skipped.
func (r *RiskManager) AllowEntry(ctx context.Context, in riskInputs, th domain.Thresholds, gs domain.GlobalSettings) error {
	if th.MaxPositionsPerGame > 0 && in.marketPositions >= th.MaxPositionsPerGame {
		return fmt.Errorf("engine: %d positions on market (cap %d): %w",
			in.marketPositions, th.MaxPositionsPerGame, domain.ErrRiskLimit)
	}
	if gs.MaxTotalPositions > 0 && in.totalPositions >= gs.MaxTotalPositions {
		return fmt.Errorf("engine: %d total positions (cap %d): %w",
			in.totalPositions, gs.MaxTotalPositions, domain.ErrRiskLimit)
	}
	if gs.TotalExposureCap > 0 && in.totalExposure+in.newCost > gs.TotalExposureCap {
		return fmt.Errorf("engine: exposure %.2f+%.2f exceeds cap %.2f: %w",
			in.totalExposure, in.newCost, gs.TotalExposureCap, domain.ErrRiskLimit)
	}

	if gs.DailyLossCap > 0 {
		pnl, err := r.dailyRealizedPnL(ctx)
		if err != nil {
			// Persistence trouble must not open the door to unbounded
			// losses; treat it as the cap being hit.
			r.logger.Warn("daily pnl lookup failed, blocking entry",
				slog.String("error", err.Error()))
			return fmt.Errorf("engine: daily pnl unavailable: %w", domain.ErrRiskLimit)
		}
		if pnl <= -gs.DailyLossCap {
			return fmt.Errorf("engine: daily loss %.2f at cap %.2f: %w",
				pnl, gs.DailyLossCap, domain.ErrRiskLimit)
		}
	}
	return nil
}

// DailyRealizedPnL sums realized P&L over positions closed since midnight
// UTC.
func (r *RiskManager) DailyRealizedPnL(ctx context.Context) (float64, error) {
	return r.dailyRealizedPnL(ctx)
}

func (r *RiskManager) dailyRealizedPnL(ctx context.Context) (float64, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return r.positions.RealizedPnLSince(ctx, midnight)
}
