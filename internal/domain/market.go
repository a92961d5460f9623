package domain

import "time"

// MarketInstrument is one tradable venue market. ConditionID and TokenIDs
// are stable keys; the remaining fields are refreshed on each catalog fetch.
type MarketInstrument struct {
	ConditionID string
	TokenIDs    [2]string // outcome tokens, index 0 = Yes, 1 = No
	Question    string    // human-readable market question
	Slug        string
	Sport       string
	EndTime     time.Time
	Active      bool
	FetchedAt   time.Time
}

// YesTokenID returns the outcome token for the Yes side.
func (m MarketInstrument) YesTokenID() string { return m.TokenIDs[0] }

// NoTokenID returns the outcome token for the No side.
func (m MarketInstrument) NoTokenID() string { return m.TokenIDs[1] }
