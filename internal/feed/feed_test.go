package feed

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type fakeScoreboard struct {
	events map[string][]domain.ExternalEvent // keyed by sport/league
	err    error
	calls  int
}

func (f *fakeScoreboard) Scoreboard(_ context.Context, sport, league string) ([]domain.ExternalEvent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events[sport+"/"+league], nil
}

func TestGameFeedStoresAndEmits(t *testing.T) {
	ev := domain.ExternalEvent{
		ID:        "g1",
		Sport:     "basketball",
		League:    "nba",
		Home:      domain.Team{Name: "Celtics", Abbreviation: "BOS"},
		Away:      domain.Team{Name: "Lakers", Abbreviation: "LAL"},
		Status:    domain.GameStatusLive,
		FetchedAt: time.Now(),
	}
	sb := &fakeScoreboard{events: map[string][]domain.ExternalEvent{
		"basketball/nba": {ev},
	}}

	out := make(chan domain.Update, 4)
	board := domain.NewStatusBoard("monitor")
	feed := NewGameFeed(sb, []League{{Sport: "basketball", League: "nba"}},
		time.Hour, time.Hour, out, board, testLogger)

	feed.pollOnce(context.Background())

	got, ok := feed.Event("g1")
	require.True(t, ok)
	assert.Equal(t, "g1", got.ID)

	select {
	case up := <-out:
		require.NotNil(t, up.Game)
		assert.Equal(t, "g1", up.Game.Event.ID)
	default:
		t.Fatal("expected a game update on the channel")
	}

	assert.False(t, board.Snapshot().LastGamePoll.IsZero())
}

func TestGameFeedDegradesOnProviderFailure(t *testing.T) {
	sb := &fakeScoreboard{err: errors.New("boom")}
	feed := NewGameFeed(sb, []League{{Sport: "basketball", League: "nba"}},
		time.Hour, time.Hour, nil, nil, testLogger)

	// Must not panic or emit; the snapshot stays empty.
	feed.pollOnce(context.Background())
	assert.Empty(t, feed.Events())
	assert.Equal(t, 1, sb.calls)
}

func TestGameFeedRetention(t *testing.T) {
	stale := domain.ExternalEvent{
		ID:        "old",
		Status:    domain.GameStatusFinished,
		FetchedAt: time.Now().Add(-3 * time.Hour),
	}
	liveStale := domain.ExternalEvent{
		ID:        "live",
		Status:    domain.GameStatusLive,
		FetchedAt: time.Now().Add(-3 * time.Hour),
	}
	feed := NewGameFeed(&fakeScoreboard{}, nil, time.Hour, 2*time.Hour, nil, nil, testLogger)
	feed.store(stale)
	feed.store(liveStale)

	feed.expire()

	_, ok := feed.Event("old")
	assert.False(t, ok, "finished event past retention should be dropped")
	_, ok = feed.Event("live")
	assert.True(t, ok, "only finished events age out")
}

type fakeCatalogSource struct {
	markets map[string][]domain.MarketInstrument
	err     error
}

func (f *fakeCatalogSource) SportsMarkets(_ context.Context, sport string) ([]domain.MarketInstrument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.markets[sport], nil
}

func TestCatalogRefreshPreservesOrder(t *testing.T) {
	src := &fakeCatalogSource{markets: map[string][]domain.MarketInstrument{
		"basketball": {
			{ConditionID: "c1", Active: true},
			{ConditionID: "c2", Active: true},
		},
	}}
	board := domain.NewStatusBoard("monitor")
	cat := NewCatalog(src, []string{"basketball"}, time.Hour, board, testLogger)

	var hooked []domain.MarketInstrument
	cat.OnRefresh(func(m []domain.MarketInstrument) { hooked = m })

	cat.refresh(context.Background())

	snap := cat.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "c1", snap[0].ConditionID)
	assert.Equal(t, "c2", snap[1].ConditionID)
	assert.Len(t, hooked, 2)

	inst, ok := cat.Lookup("c2")
	require.True(t, ok)
	assert.Equal(t, "c2", inst.ConditionID)

	assert.False(t, board.Snapshot().LastCatalogPoll.IsZero())
}

func TestCatalogKeepsSnapshotWhenRefreshFails(t *testing.T) {
	src := &fakeCatalogSource{markets: map[string][]domain.MarketInstrument{
		"basketball": {{ConditionID: "c1", Active: true}},
	}}
	cat := NewCatalog(src, []string{"basketball"}, time.Hour, nil, testLogger)
	cat.refresh(context.Background())
	require.Len(t, cat.Snapshot(), 1)

	src.err = errors.New("gamma down")
	cat.refresh(context.Background())
	assert.Len(t, cat.Snapshot(), 1, "failed cycle must not wipe the snapshot")
}
