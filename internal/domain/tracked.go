package domain

import "time"

// TrackedMarket is a matched market an operator has opted into active
// monitoring and trading. BaselinePrice is captured exactly once at the
// first price observation after tracking begins and never changes for the
// lifetime of this instance; untracking and re-tracking creates a new
// TrackedMarket with a fresh baseline.
type TrackedMarket struct {
	ID          string // unique per tracking session
	Link        MatchLink
	Instrument  MarketInstrument
	Sport       string
	BaselinePrice float64
	BaselineAt    *time.Time // nil until the baseline is captured
	Segment       string     // current game segment, refreshed from the feed
	Overrides     *MarketOverrides
	TrackedAt     time.Time
}

// HasBaseline reports whether the baseline price has been captured.
func (t TrackedMarket) HasBaseline() bool {
	return t.BaselineAt != nil
}
