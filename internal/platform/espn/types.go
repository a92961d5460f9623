package espn

import (
	"fmt"
	"strconv"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// scoreboardResponse is the top-level shape of the ESPN site API scoreboard
// endpoint.
type scoreboardResponse struct {
	Events []apiEvent `json:"events"`
}

// apiEvent is one game as returned by the scoreboard endpoint.
type apiEvent struct {
	ID           string           `json:"id"`
	Date         string           `json:"date"`
	Status       apiStatus        `json:"status"`
	Competitions []apiCompetition `json:"competitions"`
}

type apiStatus struct {
	Clock        float64       `json:"clock"`
	DisplayClock string        `json:"displayClock"`
	Period       int           `json:"period"`
	Type         apiStatusType `json:"type"`
}

type apiStatusType struct {
	State     string `json:"state"` // "pre", "in", "post"
	Completed bool   `json:"completed"`
}

type apiCompetition struct {
	Competitors []apiCompetitor `json:"competitors"`
}

type apiCompetitor struct {
	HomeAway string  `json:"homeAway"` // "home" or "away"
	Score    string  `json:"score"`
	Team     apiTeam `json:"team"`
}

type apiTeam struct {
	DisplayName  string `json:"displayName"`
	Abbreviation string `json:"abbreviation"`
}

// toDomainEvent converts an API event to the domain representation. Events
// without competitions data are rejected; they cannot be matched downstream.
func (e apiEvent) toDomainEvent(sport, league string) (domain.ExternalEvent, error) {
	if len(e.Competitions) == 0 || len(e.Competitions[0].Competitors) < 2 {
		return domain.ExternalEvent{}, fmt.Errorf("espn: event %s has no competitions data", e.ID)
	}

	ev := domain.ExternalEvent{
		ID:           e.ID,
		Sport:        sport,
		League:       league,
		Status:       normalizeStatus(e.Status.Type),
		Segment:      normalizeSegment(sport, e.Status.Period),
		Period:       e.Status.Period,
		DisplayClock: e.Status.DisplayClock,
		ClockSeconds: e.Status.Clock,
		FetchedAt:    time.Now().UTC(),
	}

	if t, err := time.Parse("2006-01-02T15:04Z", e.Date); err == nil {
		ev.StartTime = t
	} else if t, err := time.Parse(time.RFC3339, e.Date); err == nil {
		ev.StartTime = t
	}

	for _, c := range e.Competitions[0].Competitors {
		team := domain.Team{
			Name:         c.Team.DisplayName,
			Abbreviation: c.Team.Abbreviation,
			Home:         c.HomeAway == "home",
		}
		if n, err := strconv.Atoi(c.Score); err == nil {
			team.Score = n
		}
		if team.Home {
			ev.Home = team
		} else {
			ev.Away = team
		}
	}

	return ev, nil
}

// normalizeStatus maps the provider's state strings onto the domain
// lifecycle.
func normalizeStatus(t apiStatusType) domain.GameStatus {
	switch t.State {
	case "in":
		return domain.GameStatusLive
	case "post":
		return domain.GameStatusFinished
	default:
		return domain.GameStatusScheduled
	}
}

// normalizeSegment maps a raw numeric period to the sport-specific segment
// identifier used across the bot ("q3", "h2", "p1", ...).
func normalizeSegment(sport string, period int) string {
	if period <= 0 {
		return ""
	}
	switch sport {
	case "basketball", "football":
		return fmt.Sprintf("q%d", period)
	case "soccer":
		return fmt.Sprintf("h%d", period)
	case "hockey":
		return fmt.Sprintf("p%d", period)
	case "baseball":
		return fmt.Sprintf("i%d", period)
	default:
		return fmt.Sprintf("p%d", period)
	}
}
