// Package domain defines the core types and boundary interfaces shared by
// every component of the linedrop bot: live game events, venue market
// instruments, event-to-market links, tracked markets, positions, orders,
// and the store/cache interfaces implemented by the persistence and cache
// backends.
package domain

import "time"

// GameStatus is the normalized lifecycle state of a live sporting event.
type GameStatus string

const (
	GameStatusScheduled GameStatus = "scheduled"
	GameStatusLive      GameStatus = "live"
	GameStatusFinished  GameStatus = "finished"
)

// Team identifies one competitor in a game.
type Team struct {
	Name         string // full display name, e.g. "Los Angeles Lakers"
	Abbreviation string // short code, e.g. "LAL"
	Score        int
	Home         bool
}

// ExternalEvent is one live or scheduled game as reported by the game-state
// provider. The ID is immutable; status fields are refreshed on every poll.
type ExternalEvent struct {
	ID           string
	Sport        string // e.g. "basketball"
	League       string // e.g. "nba"
	Home         Team
	Away         Team
	StartTime    time.Time
	Status       GameStatus
	Segment      string  // normalized period identifier, e.g. "q3"
	Period       int     // raw numeric period from the provider
	DisplayClock string  // e.g. "4:32"
	ClockSeconds float64 // numeric seconds remaining in the segment
	FetchedAt    time.Time
}

// Live reports whether the game is currently in progress.
func (e ExternalEvent) Live() bool {
	return e.Status == GameStatusLive
}

// HasCompetitors reports whether the provider supplied both teams. Events
// without competitions data cannot be matched to a market.
func (e ExternalEvent) HasCompetitors() bool {
	return e.Home.Name != "" && e.Away.Name != ""
}
