package matcher

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

func lakersCeltics(start time.Time) domain.ExternalEvent {
	return domain.ExternalEvent{
		ID:        "401585601",
		Sport:     "basketball",
		League:    "nba",
		Home:      domain.Team{Name: "Boston Celtics", Abbreviation: "BOS", Home: true},
		Away:      domain.Team{Name: "Los Angeles Lakers", Abbreviation: "LAL"},
		StartTime: start,
		Status:    domain.GameStatusLive,
	}
}

func instrument(id, question string, end time.Time) domain.MarketInstrument {
	return domain.MarketInstrument{
		ConditionID: id,
		TokenIDs:    [2]string{id + "-yes", id + "-no"},
		Question:    question,
		EndTime:     end,
		Active:      true,
	}
}

func TestMatchAbbreviation(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("c1", "Will GSW beat PHX?", start),
		instrument("c2", "LAL @ BOS: Will the Lakers win?", start),
	}

	link, ok := m.Match(ev, catalog)
	require.True(t, ok)
	assert.Equal(t, "c2", link.ConditionID)
	assert.Equal(t, domain.MatchStrategyAbbreviation, link.Strategy)
	assert.Equal(t, 0.90, link.Confidence)
	assert.Equal(t, ev.ID, link.EventID)
}

func TestMatchAbbreviationUnspacedQuestion(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	// Question texts that join the codes with punctuation still carry
	// both abbreviations.
	for _, q := range []string{"LAL@BOS winner?", "NBA: LAL-BOS moneyline"} {
		link, ok := m.Match(ev, []domain.MarketInstrument{instrument("c1", q, start)})
		require.True(t, ok, "question %q should match on abbreviations", q)
		assert.Equal(t, domain.MatchStrategyAbbreviation, link.Strategy)
		assert.Equal(t, 0.90, link.Confidence)
	}
}

func TestMatchFullName(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("c1", "Will the Los Angeles Lakers beat the Boston Celtics?", start),
	}

	link, ok := m.Match(ev, catalog)
	require.True(t, ok)
	assert.Equal(t, domain.MatchStrategyFullName, link.Strategy)
	assert.Equal(t, 0.85, link.Confidence)
}

func TestStrategyPriorityOrder(t *testing.T) {
	// An abbreviation hit later in the catalog beats a full-name hit
	// earlier in the catalog.
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("full", "Will the Los Angeles Lakers beat the Boston Celtics?", start),
		instrument("abbr", "LAL @ BOS moneyline", start),
	}

	link, ok := m.Match(ev, catalog)
	require.True(t, ok)
	assert.Equal(t, "abbr", link.ConditionID)
	assert.Equal(t, domain.MatchStrategyAbbreviation, link.Strategy)
}

func TestCatalogOrderBreaksTies(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("first", "LAL vs BOS winner", start),
		instrument("second", "LAL vs BOS total points", start),
	}

	link, ok := m.Match(ev, catalog)
	require.True(t, ok)
	assert.Equal(t, "first", link.ConditionID)
}

func TestTimeWindowMatch(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	// No abbreviations, no full names, but two keywords and an end time
	// inside the window.
	catalog := []domain.MarketInstrument{
		instrument("tw", "Lakers to beat Celtics tonight", start.Add(3*time.Hour)),
	}

	link, ok := m.Match(ev, catalog)
	require.True(t, ok)
	assert.Equal(t, domain.MatchStrategyTimeWindow, link.Strategy)
	assert.Equal(t, 0.70, link.Confidence)
}

func TestTimeWindowBoundaryAccepted(t *testing.T) {
	// Confidence exactly at the floor is accepted, and an end time at
	// exactly the window edge is inside the window.
	m := New(Config{MinConfidence: 0.70}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("edge", "Lakers to beat Celtics", start.Add(4*time.Hour)),
	}

	_, ok := m.Match(ev, catalog)
	assert.True(t, ok)
}

func TestTimeWindowRejectsOutsideWindow(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("late", "Lakers to beat Celtics", start.Add(4*time.Hour+time.Minute)),
	}

	_, ok := m.Match(ev, catalog)
	assert.False(t, ok)
}

func TestTimeWindowRequiresKeywords(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	// Only one identifying keyword.
	catalog := []domain.MarketInstrument{
		instrument("one", "Lakers season wins over 50?", start),
	}

	_, ok := m.Match(ev, catalog)
	assert.False(t, ok)

	// Lowering the keyword requirement to 1 makes it pass.
	loose := New(Config{MinKeywordMatches: 1}, testLogger)
	_, ok = loose.Match(ev, catalog)
	assert.True(t, ok)
}

func TestConfidenceFloorFiltersStrategies(t *testing.T) {
	// Raising the floor above the time-window confidence disables that
	// strategy entirely.
	m := New(Config{MinConfidence: 0.80}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	catalog := []domain.MarketInstrument{
		instrument("tw", "Lakers to beat Celtics tonight", start.Add(time.Hour)),
	}

	_, ok := m.Match(ev, catalog)
	assert.False(t, ok)
}

func TestInactiveMarketsSkipped(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := lakersCeltics(start)

	closed := instrument("closed", "LAL @ BOS moneyline", start)
	closed.Active = false

	_, ok := m.Match(ev, []domain.MarketInstrument{closed})
	assert.False(t, ok)
}

func TestEventWithoutCompetitorsNeverMatches(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	ev := domain.ExternalEvent{ID: "e1", StartTime: start}

	catalog := []domain.MarketInstrument{
		instrument("c1", "LAL @ BOS moneyline", start),
	}

	_, ok := m.Match(ev, catalog)
	assert.False(t, ok)
}

func TestMatchAllClaimsMarketsOnce(t *testing.T) {
	m := New(Config{}, testLogger)
	start := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	ev1 := lakersCeltics(start)
	ev2 := lakersCeltics(start)
	ev2.ID = "other-game"

	catalog := []domain.MarketInstrument{
		instrument("only", "LAL @ BOS moneyline", start),
	}

	links := m.MatchAll([]domain.ExternalEvent{ev1, ev2}, catalog)
	require.Len(t, links, 1)
	assert.Equal(t, ev1.ID, links[0].EventID)
}
