package domain

// SportDefaults holds the per-sport trading thresholds consumed read-only
// by the trading engine. Values are configured by the operator through the
// settings collaborator, never learned.
type SportDefaults struct {
	Sport              string
	EntryDropPct       float64  // relative drop from baseline that triggers entry
	EntryAbsolute      float64  // absolute price at or below which entry triggers
	TakeProfitPct      float64  // unrealized return that triggers exit
	StopLossPct        float64  // unrealized loss floor that triggers exit (positive number)
	PositionSize       float64  // size in shares per entry
	MaxPositionsPerGame int
	MinSecondsRemaining float64 // minimum clock seconds left in the segment to enter
	AllowedSegments    []string // segments in which entry is permitted
	RestrictedSegments []string // segments whose approach forces exit
}

// MarketOverrides holds per-market threshold overrides. Nil pointer fields
// mean "use the sport default".
type MarketOverrides struct {
	ConditionID         string
	Enabled             bool
	AutoTrade           bool
	EntryDropPct        *float64
	EntryAbsolute       *float64
	TakeProfitPct       *float64
	StopLossPct         *float64
	PositionSize        *float64
	MaxPositionsPerGame *int
	MinSecondsRemaining *float64
}

// GlobalSettings holds bot-wide risk limits and operational switches.
type GlobalSettings struct {
	BotEnabled       bool
	MaxTotalPositions int
	DailyLossCap      float64 // positive dollar amount
	TotalExposureCap  float64
	PollIntervalSec   int
}

// Thresholds is the fully resolved parameter set for one tracked market:
// per-market overrides applied on top of the sport defaults.
type Thresholds struct {
	EntryDropPct        float64
	EntryAbsolute       float64
	TakeProfitPct       float64
	StopLossPct         float64
	PositionSize        float64
	MaxPositionsPerGame int
	MinSecondsRemaining float64
	AllowedSegments     []string
	RestrictedSegments  []string
}

// Resolve merges the overrides (when present) over the sport defaults.
// A nil overrides pointer resolves to the defaults unchanged.
func Resolve(def SportDefaults, ov *MarketOverrides) Thresholds {
	t := Thresholds{
		EntryDropPct:        def.EntryDropPct,
		EntryAbsolute:       def.EntryAbsolute,
		TakeProfitPct:       def.TakeProfitPct,
		StopLossPct:         def.StopLossPct,
		PositionSize:        def.PositionSize,
		MaxPositionsPerGame: def.MaxPositionsPerGame,
		MinSecondsRemaining: def.MinSecondsRemaining,
		AllowedSegments:     def.AllowedSegments,
		RestrictedSegments:  def.RestrictedSegments,
	}
	if ov == nil {
		return t
	}
	if ov.EntryDropPct != nil {
		t.EntryDropPct = *ov.EntryDropPct
	}
	if ov.EntryAbsolute != nil {
		t.EntryAbsolute = *ov.EntryAbsolute
	}
	if ov.TakeProfitPct != nil {
		t.TakeProfitPct = *ov.TakeProfitPct
	}
	if ov.StopLossPct != nil {
		t.StopLossPct = *ov.StopLossPct
	}
	if ov.PositionSize != nil {
		t.PositionSize = *ov.PositionSize
	}
	if ov.MaxPositionsPerGame != nil {
		t.MaxPositionsPerGame = *ov.MaxPositionsPerGame
	}
	if ov.MinSecondsRemaining != nil {
		t.MinSecondsRemaining = *ov.MinSecondsRemaining
	}
	return t
}

// SegmentAllowed reports whether the given segment is inside the entry window.
func (t Thresholds) SegmentAllowed(segment string) bool {
	for _, s := range t.AllowedSegments {
		if s == segment {
			return true
		}
	}
	return false
}

// SegmentRestricted reports whether the given segment forces exit.
func (t Thresholds) SegmentRestricted(segment string) bool {
	for _, s := range t.RestrictedSegments {
		if s == segment {
			return true
		}
	}
	return false
}
