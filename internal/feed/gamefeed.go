// Package feed runs the polling loops that keep the bot's view of the
// outside world fresh: live game state from the scoreboard provider and
// the tradable market catalog from the venue discovery API.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// Scoreboarder fetches the current scoreboard for one sport/league.
type Scoreboarder interface {
	Scoreboard(ctx context.Context, sport, league string) ([]domain.ExternalEvent, error)
}

// League identifies one scoreboard to poll.
type League struct {
	Sport  string
	League string
}

// GameFeed polls the scoreboard provider on a fixed interval and pushes
// refreshed game state to the engine. It keeps an in-memory snapshot of
// known events; finished events age out after the retention window so a
// late exit decision can still see the final state.
type GameFeed struct {
	client    Scoreboarder
	leagues   []League
	interval  time.Duration
	retention time.Duration
	out       chan<- domain.Update
	board     *domain.StatusBoard
	logger    *slog.Logger

	mu     sync.RWMutex
	events map[string]domain.ExternalEvent
}

// NewGameFeed creates a game feed. out receives one Update per refreshed
// event; it is never closed by the feed.
func NewGameFeed(client Scoreboarder, leagues []League, interval, retention time.Duration, out chan<- domain.Update, board *domain.StatusBoard, logger *slog.Logger) *GameFeed {
	return &GameFeed{
		client:    client,
		leagues:   leagues,
		interval:  interval,
		retention: retention,
		out:       out,
		board:     board,
		logger:    logger.With(slog.String("component", "game_feed")),
		events:    make(map[string]domain.ExternalEvent),
	}
}

// Run polls until ctx is cancelled. Provider failures degrade to a warning
// and the next tick; they never stop the loop.
func (f *GameFeed) Run(ctx context.Context) error {
	f.logger.Info("game feed started",
		slog.Int("leagues", len(f.leagues)),
		slog.Duration("interval", f.interval))
	defer f.logger.Info("game feed stopped")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

// Event returns the latest known state for one event.
func (f *GameFeed) Event(id string) (domain.ExternalEvent, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ev, ok := f.events[id]
	return ev, ok
}

// Events returns a snapshot of all retained events.
func (f *GameFeed) Events() []domain.ExternalEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.ExternalEvent, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out
}

func (f *GameFeed) pollOnce(ctx context.Context) {
	for _, lg := range f.leagues {
		events, err := f.client.Scoreboard(ctx, lg.Sport, lg.League)
		if err != nil {
			// Breaker-open and transient provider failures both land
			// here; the snapshot keeps serving the last good state.
			f.logger.Warn("scoreboard poll failed",
				slog.String("sport", lg.Sport),
				slog.String("league", lg.League),
				slog.String("error", err.Error()))
			continue
		}
		for _, ev := range events {
			f.store(ev)
			f.emit(ctx, ev)
		}
	}
	f.expire()
	if f.board != nil {
		f.board.TouchGamePoll(time.Now().UTC())
	}
}

func (f *GameFeed) store(ev domain.ExternalEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
}

func (f *GameFeed) emit(ctx context.Context, ev domain.ExternalEvent) {
	if f.out == nil {
		return
	}
	select {
	case f.out <- domain.Update{Game: &domain.GameUpdate{Event: ev}}:
	case <-ctx.Done():
	}
}

// expire drops finished events not refreshed within the retention window.
func (f *GameFeed) expire() {
	cutoff := time.Now().Add(-f.retention)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ev := range f.events {
		if ev.Status == domain.GameStatusFinished && ev.FetchedAt.Before(cutoff) {
			delete(f.events, id)
		}
	}
}
