package domain

import "time"

// MatchStrategy identifies which matcher strategy produced a MatchLink.
type MatchStrategy string

const (
	MatchStrategyAbbreviation MatchStrategy = "abbreviation"
	MatchStrategyFullName     MatchStrategy = "full_name"
	MatchStrategyTimeWindow   MatchStrategy = "time_window"
)

// MatchLink binds one ExternalEvent to one MarketInstrument. A link is
// immutable once accepted; at most one accepted link exists per event.
type MatchLink struct {
	EventID     string
	ConditionID string
	Strategy    MatchStrategy
	Confidence  float64 // 0..1
	CreatedAt   time.Time
}
