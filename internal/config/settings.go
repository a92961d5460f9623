package config

import (
	"context"
	"fmt"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// StaticSettings implements domain.SettingsProvider from the TOML
// configuration alone. It is used in modes that run without the settings
// collaborator; per-market overrides are always absent.
type StaticSettings struct {
	sports map[string]domain.SportDefaults
	global domain.GlobalSettings
}

// NewStaticSettings builds a StaticSettings provider from the trading
// section of the configuration.
func NewStaticSettings(cfg TradingConfig) *StaticSettings {
	sports := make(map[string]domain.SportDefaults, len(cfg.Sports))
	for _, s := range cfg.Sports {
		sports[s.Sport] = domain.SportDefaults{
			Sport:               s.Sport,
			EntryDropPct:        s.EntryDropPct,
			EntryAbsolute:       s.EntryAbsolute,
			TakeProfitPct:       s.TakeProfitPct,
			StopLossPct:         s.StopLossPct,
			PositionSize:        s.PositionSize,
			MaxPositionsPerGame: s.MaxPositionsPerGame,
			MinSecondsRemaining: s.MinSecondsRemaining,
			AllowedSegments:     s.AllowedSegments,
			RestrictedSegments:  s.RestrictedSegments,
		}
	}
	return &StaticSettings{
		sports: sports,
		global: domain.GlobalSettings{
			BotEnabled:        cfg.Enabled,
			MaxTotalPositions: cfg.MaxTotalPositions,
			DailyLossCap:      cfg.DailyLossCap,
			TotalExposureCap:  cfg.TotalExposureCap,
			PollIntervalSec:   int(cfg.PollInterval.Duration.Seconds()),
		},
	}
}

// SportDefaults returns the configured defaults for the given sport.
func (s *StaticSettings) SportDefaults(ctx context.Context, sport string) (domain.SportDefaults, error) {
	def, ok := s.sports[sport]
	if !ok {
		return domain.SportDefaults{}, fmt.Errorf("config: sport %q: %w", sport, domain.ErrNotFound)
	}
	return def, nil
}

// MarketOverrides always reports no overrides; static configuration has no
// per-market surface.
func (s *StaticSettings) MarketOverrides(ctx context.Context, conditionID string) (*domain.MarketOverrides, error) {
	return nil, nil
}

// Global returns the bot-wide settings.
func (s *StaticSettings) Global(ctx context.Context) (domain.GlobalSettings, error) {
	return s.global, nil
}

var _ domain.SettingsProvider = (*StaticSettings)(nil)
