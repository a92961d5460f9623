package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/courtsidelabs/linedrop/internal/blob/s3"
	"github.com/courtsidelabs/linedrop/internal/broadcast"
	"github.com/courtsidelabs/linedrop/internal/domain"
	"github.com/courtsidelabs/linedrop/internal/engine"
	"github.com/courtsidelabs/linedrop/internal/feed"
	"github.com/courtsidelabs/linedrop/internal/matcher"
	"github.com/courtsidelabs/linedrop/internal/platform/polymarket"
	"github.com/courtsidelabs/linedrop/internal/stream"
)

// updateBufferSize is the shared update channel capacity. Stream bursts
// beyond this are dropped by the hub rather than blocking the reader.
const updateBufferSize = 256

// runPipeline runs the full live pipeline: game feed, market catalog,
// matcher, venue streams, trading engine, and the optional broadcaster,
// notifier, and archiver. With trading false the engine observes without
// placing orders.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, trading bool) error {
	mode := "monitor"
	if trading {
		mode = "trade"
	}
	board := domain.NewStatusBoard(mode)
	updates := make(chan domain.Update, updateBufferSize)

	leagues := make([]feed.League, 0, len(a.cfg.ESPN.Leagues))
	sportSet := make(map[string]bool)
	var sports []string
	for _, l := range a.cfg.ESPN.Leagues {
		leagues = append(leagues, feed.League{Sport: l.Sport, League: l.League})
		if !sportSet[l.Sport] {
			sportSet[l.Sport] = true
			sports = append(sports, l.Sport)
		}
	}

	gameFeed := feed.NewGameFeed(deps.ESPN, leagues,
		a.cfg.Trading.PollInterval.Duration, a.cfg.Trading.EventRetention.Duration,
		updates, board, a.logger)
	catalog := feed.NewCatalog(deps.Gamma, sports,
		a.cfg.Trading.CatalogInterval.Duration, board, a.logger)

	m := matcher.New(matcher.Config{
		MinConfidence:     a.cfg.Trading.MatchConfidence,
		MinKeywordMatches: a.cfg.Trading.MinKeywordMatches,
	}, a.logger)

	var userAuth *polymarket.WSAuth
	if trading {
		if creds := deps.Clob.HMACCreds(); creds.Configured() {
			userAuth = &polymarket.WSAuth{
				APIKey:     creds.Key,
				Secret:     creds.Secret,
				Passphrase: creds.Passphrase,
			}
		}
	}
	wsHost := strings.TrimRight(a.cfg.Polymarket.WsHost, "/")
	hub := stream.NewHub(wsHost+"/ws/market", wsHost+"/ws/user",
		stream.Config{
			KeepAlive:            a.cfg.Stream.KeepAliveInterval.Duration,
			StaleTimeout:         a.cfg.Stream.StaleTimeout.Duration,
			ReconnectBase:        a.cfg.Stream.ReconnectBaseDelay.Duration,
			ReconnectMax:         a.cfg.Stream.ReconnectMaxDelay.Duration,
			MaxReconnectAttempts: a.cfg.Stream.MaxReconnectAttempts,
		},
		userAuth, updates, deps.PriceCache, board, a.logger)

	var venue engine.OrderPlacer
	if trading && deps.Clob.CanTrade() {
		venue = deps.Clob
	}
	eng := engine.New(engine.Config{
		TradingEnabled:  trading,
		OrderRateLimit:  a.cfg.Trading.OrderRateLimit,
		OrderRateWindow: a.cfg.Trading.OrderRateWindow.Duration,
	}, updates, venue, deps.Settings, deps.PositionStore, deps.OrderStore,
		deps.SignalBus, deps.RateLimiter, board, a.logger)

	// Every catalog refresh re-runs matching over the current games and
	// puts newly matched markets under watch.
	catalog.OnRefresh(func(snapshot []domain.MarketInstrument) {
		a.matchAndTrack(ctx, gameFeed.Events(), snapshot, m, eng, hub, userAuth != nil)
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gameFeed.Run(ctx) })
	g.Go(func() error { return catalog.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, domain.ErrStreamTerminal) {
			deps.Notifier.Direct(context.WithoutCancel(ctx),
				"Stream connection lost",
				"venue stream exhausted its reconnect attempts; the bot is shutting down")
		}
		return err
	})
	g.Go(func() error { return deps.Notifier.Run(ctx) })

	if a.cfg.Broadcast.Enabled {
		caster := broadcast.NewHub(broadcast.Config{
			Port:              a.cfg.Broadcast.Port,
			HeartbeatInterval: a.cfg.Broadcast.HeartbeatInterval.Duration,
		}, deps.SignalBus, board, a.logger)
		g.Go(func() error { return caster.Run(ctx) })
	}

	if deps.BlobWriter != nil && deps.PositionStore != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.PositionStore, gameFeed,
			a.cfg.S3.ArchiveInterval.Duration, a.cfg.S3.ArchiveAfter.Duration, a.logger)
		g.Go(func() error { return archiver.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// matchAndTrack matches the current games against untracked catalog
// instruments and opts every hit into the engine and the venue streams.
func (a *App) matchAndTrack(ctx context.Context, events []domain.ExternalEvent, snapshot []domain.MarketInstrument, m *matcher.Matcher, eng *engine.Engine, hub *stream.Hub, userStream bool) {
	tracked := make(map[string]bool)
	for _, tm := range eng.Tracked() {
		tracked[tm.Instrument.ConditionID] = true
	}

	available := make([]domain.MarketInstrument, 0, len(snapshot))
	byCondition := make(map[string]domain.MarketInstrument, len(snapshot))
	for _, inst := range snapshot {
		byCondition[inst.ConditionID] = inst
		if !tracked[inst.ConditionID] {
			available = append(available, inst)
		}
	}

	links := m.MatchAll(events, available)
	if len(links) == 0 {
		return
	}

	for _, link := range links {
		inst := byCondition[link.ConditionID]
		if _, err := eng.Track(ctx, link, inst, inst.Sport); err != nil {
			a.logger.Warn("track failed",
				slog.String("condition_id", link.ConditionID),
				slog.String("error", err.Error()))
		}
	}

	if err := hub.WatchTokens(eng.TrackedTokens()); err != nil {
		a.logger.Warn("market stream subscription failed", slog.String("error", err.Error()))
	}
	if userStream {
		conditionIDs := make([]string, 0, len(eng.Tracked()))
		for _, tm := range eng.Tracked() {
			conditionIDs = append(conditionIDs, tm.Instrument.ConditionID)
		}
		if err := hub.WatchUserMarkets(conditionIDs); err != nil {
			a.logger.Warn("user stream subscription failed", slog.String("error", err.Error()))
		}
	}
}

// MatchMode runs one matching pass and reports the links without trading:
// fetch the current scoreboards and catalog, match, log, exit.
func (a *App) MatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("running one-shot match")

	var events []domain.ExternalEvent
	for _, l := range a.cfg.ESPN.Leagues {
		evs, err := deps.ESPN.Scoreboard(ctx, l.Sport, l.League)
		if err != nil {
			return fmt.Errorf("app: scoreboard %s/%s: %w", l.Sport, l.League, err)
		}
		events = append(events, evs...)
	}

	sportSet := make(map[string]bool)
	var snapshot []domain.MarketInstrument
	for _, l := range a.cfg.ESPN.Leagues {
		if sportSet[l.Sport] {
			continue
		}
		sportSet[l.Sport] = true
		markets, err := deps.Gamma.SportsMarkets(ctx, l.Sport)
		if err != nil {
			return fmt.Errorf("app: catalog %s: %w", l.Sport, err)
		}
		snapshot = append(snapshot, markets...)
	}

	m := matcher.New(matcher.Config{
		MinConfidence:     a.cfg.Trading.MatchConfidence,
		MinKeywordMatches: a.cfg.Trading.MinKeywordMatches,
	}, a.logger)

	links := m.MatchAll(events, snapshot)
	for _, link := range links {
		a.logger.Info("match",
			slog.String("event_id", link.EventID),
			slog.String("condition_id", link.ConditionID),
			slog.String("strategy", string(link.Strategy)),
			slog.Float64("confidence", link.Confidence))
	}
	a.logger.Info("match complete",
		slog.Int("games", len(events)),
		slog.Int("markets", len(snapshot)),
		slog.Int("links", len(links)))
	return nil
}
