package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// SettingsStore implements domain.SettingsProvider against tables owned by
// the operator dashboard. The bot only reads; writes happen elsewhere.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a SettingsStore backed by the given pool.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// SportDefaults returns the trading thresholds configured for a sport.
func (s *SettingsStore) SportDefaults(ctx context.Context, sport string) (domain.SportDefaults, error) {
	const query = `
		SELECT sport, entry_drop_pct, entry_absolute, take_profit_pct,
		       stop_loss_pct, position_size, max_positions_per_game,
		       min_seconds_remaining, allowed_segments, restricted_segments
		FROM sport_settings WHERE sport = $1`

	var d domain.SportDefaults
	err := s.pool.QueryRow(ctx, query, sport).Scan(
		&d.Sport, &d.EntryDropPct, &d.EntryAbsolute, &d.TakeProfitPct,
		&d.StopLossPct, &d.PositionSize, &d.MaxPositionsPerGame,
		&d.MinSecondsRemaining, &d.AllowedSegments, &d.RestrictedSegments,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SportDefaults{}, fmt.Errorf("postgres: sport settings %s: %w", sport, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SportDefaults{}, fmt.Errorf("postgres: sport settings %s: %w", sport, err)
	}
	return d, nil
}

// MarketOverrides returns per-market overrides, or ErrNotFound when the
// market has none configured.
func (s *SettingsStore) MarketOverrides(ctx context.Context, conditionID string) (*domain.MarketOverrides, error) {
	const query = `
		SELECT condition_id, enabled, auto_trade, entry_drop_pct,
		       entry_absolute, take_profit_pct, stop_loss_pct, position_size,
		       max_positions_per_game, min_seconds_remaining
		FROM market_settings WHERE condition_id = $1`

	var ov domain.MarketOverrides
	err := s.pool.QueryRow(ctx, query, conditionID).Scan(
		&ov.ConditionID, &ov.Enabled, &ov.AutoTrade, &ov.EntryDropPct,
		&ov.EntryAbsolute, &ov.TakeProfitPct, &ov.StopLossPct, &ov.PositionSize,
		&ov.MaxPositionsPerGame, &ov.MinSecondsRemaining,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: market settings %s: %w", conditionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: market settings %s: %w", conditionID, err)
	}
	return &ov, nil
}

// Global returns the bot-wide risk limits and switches. The table holds a
// single row.
func (s *SettingsStore) Global(ctx context.Context) (domain.GlobalSettings, error) {
	const query = `
		SELECT bot_enabled, max_total_positions, daily_loss_cap,
		       total_exposure_cap, poll_interval_sec
		FROM global_settings LIMIT 1`

	var gs domain.GlobalSettings
	err := s.pool.QueryRow(ctx, query).Scan(
		&gs.BotEnabled, &gs.MaxTotalPositions, &gs.DailyLossCap,
		&gs.TotalExposureCap, &gs.PollIntervalSec,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GlobalSettings{}, fmt.Errorf("postgres: global settings: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.GlobalSettings{}, fmt.Errorf("postgres: global settings: %w", err)
	}
	return gs, nil
}

var _ domain.SettingsProvider = (*SettingsStore)(nil)
