package domain

import (
	"sync"
	"time"
)

// BotStatus is a point-in-time snapshot of the bot's operational state.
type BotStatus struct {
	Mode            string
	BotEnabled      bool
	MarketStream    bool // venue price stream connected
	UserStream      bool // venue order stream connected
	TrackedMarkets  int
	OpenPositions   int
	DailyRealizedPnL float64
	LastGamePoll    time.Time
	LastCatalogPoll time.Time
	StartedAt       time.Time
}

// StatusBoard holds the process-wide bot status. Each field has a single
// designated writer; readers always obtain a copy via Snapshot, never a
// shared reference.
type StatusBoard struct {
	mu     sync.RWMutex
	status BotStatus
}

// NewStatusBoard creates a StatusBoard for the given mode.
func NewStatusBoard(mode string) *StatusBoard {
	return &StatusBoard{status: BotStatus{Mode: mode, StartedAt: time.Now().UTC()}}
}

// Snapshot returns a copy of the current status.
func (b *StatusBoard) Snapshot() BotStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SetStreamConnected records stream connectivity. Written only by the
// stream hub.
func (b *StatusBoard) SetStreamConnected(user bool, connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if user {
		b.status.UserStream = connected
	} else {
		b.status.MarketStream = connected
	}
}

// SetCounts records the tracked-market and open-position counts. Written
// only by the trading engine.
func (b *StatusBoard) SetCounts(tracked, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.TrackedMarkets = tracked
	b.status.OpenPositions = open
}

// SetDailyPnL records the realized P&L for the current day. Written only by
// the trading engine.
func (b *StatusBoard) SetDailyPnL(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.DailyRealizedPnL = pnl
}

// SetEnabled records the operator kill switch. Written only by the engine.
func (b *StatusBoard) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.BotEnabled = enabled
}

// TouchGamePoll records a completed game-state poll. Written only by the
// game feed.
func (b *StatusBoard) TouchGamePoll(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.LastGamePoll = t
}

// TouchCatalogPoll records a completed catalog fetch. Written only by the
// market catalog.
func (b *StatusBoard) TouchCatalogPoll(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.LastCatalogPoll = t
}
