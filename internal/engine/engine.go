// Package engine is the decision core: it consumes normalized price,
// order, and game updates, evaluates entry and exit conditions per tracked
// market, and drives positions and orders through their lifecycle. All
// venue calls go through the resilience-wrapped client owned by the
// caller.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// eventsChannel is the signal-bus channel the broadcaster subscribes to.
const eventsChannel = "events"

// OrderPlacer is the venue order surface the engine depends on. Nil in
// monitor mode.
type OrderPlacer interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Config tunes the engine.
type Config struct {
	// TradingEnabled gates order placement; false observes and logs
	// decisions without trading.
	TradingEnabled bool
	// OrderRateLimit / OrderRateWindow bound entry order placement.
	OrderRateLimit  int
	OrderRateWindow time.Duration
}

// Engine owns every TrackedMarket, Position, and Order in the process.
// Updates for one market are serialized through a per-market worker;
// cross-market state is guarded by mu.
type Engine struct {
	cfg       Config
	venue     OrderPlacer
	settings  domain.SettingsProvider
	positions domain.PositionStore
	orders    domain.OrderStore
	bus       domain.SignalBus
	limiter   domain.RateLimiter
	board     *domain.StatusBoard
	baseline  *BaselineTracker
	risk      *RiskManager
	logger    *slog.Logger

	in      <-chan domain.Update
	workers *workerPool

	mu      sync.Mutex
	tracked map[string]*domain.TrackedMarket
	slots   map[slotKey]*slot
	byToken map[string]slotKey // outcome token -> slot
	byEvent map[string]string  // game event id -> tracked market id
	byOrder map[string]slotKey // in-flight venue order id -> slot
	games   map[string]domain.ExternalEvent
	// lastPrice holds the latest observed price per slot, so a game
	// update can re-evaluate without waiting for the next tick.
	lastPrice map[slotKey]float64
}

// New creates an engine consuming updates from in. bus and limiter may be
// nil; venue nil disables order placement regardless of config.
func New(cfg Config, in <-chan domain.Update, venue OrderPlacer, settings domain.SettingsProvider, positions domain.PositionStore, orders domain.OrderStore, bus domain.SignalBus, limiter domain.RateLimiter, board *domain.StatusBoard, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		venue:     venue,
		settings:  settings,
		positions: positions,
		orders:    orders,
		bus:       bus,
		limiter:   limiter,
		board:     board,
		baseline:  NewBaselineTracker(logger),
		risk:      NewRiskManager(positions, logger),
		logger:    logger.With(slog.String("component", "engine")),
		in:        in,
		tracked:   make(map[string]*domain.TrackedMarket),
		slots:     make(map[slotKey]*slot),
		byToken:   make(map[string]slotKey),
		byEvent:   make(map[string]string),
		byOrder:   make(map[string]slotKey),
		games:     make(map[string]domain.ExternalEvent),
		lastPrice: make(map[slotKey]float64),
	}
	e.workers = newWorkerPool(e.handle)
	return e
}

// Run consumes the update channel until ctx is cancelled. In-flight
// evaluations finish before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started", slog.Bool("trading_enabled", e.cfg.TradingEnabled))
	defer e.logger.Info("engine stopped")
	defer e.workers.stop()

	if e.board != nil {
		e.board.SetEnabled(e.cfg.TradingEnabled)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-e.in:
			if !ok {
				return nil
			}
			e.dispatch(ctx, up)
		}
	}
}

// Track opts a matched market into active monitoring and trading. Each
// call creates a fresh TrackedMarket instance with an uncaptured baseline.
func (e *Engine) Track(ctx context.Context, link domain.MatchLink, inst domain.MarketInstrument, sport string) (*domain.TrackedMarket, error) {
	overrides, err := e.settings.MarketOverrides(ctx, inst.ConditionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	tm := &domain.TrackedMarket{
		ID:         uuid.NewString(),
		Link:       link,
		Instrument: inst,
		Sport:      sport,
		Overrides:  overrides,
		TrackedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	e.tracked[tm.ID] = tm
	e.byEvent[link.EventID] = tm.ID
	for i, side := range []domain.PositionSide{domain.PositionSideYes, domain.PositionSideNo} {
		key := slotKey{trackedMarketID: tm.ID, side: side}
		e.slots[key] = newSlot(key)
		if tok := inst.TokenIDs[i]; tok != "" {
			e.byToken[tok] = key
		}
	}
	e.mu.Unlock()

	e.updateCounts()
	e.logger.Info("market tracked",
		slog.String("tracked_market_id", tm.ID),
		slog.String("condition_id", inst.ConditionID),
		slog.String("event_id", link.EventID),
		slog.String("strategy", string(link.Strategy)))
	return tm, nil
}

// Untrack removes a tracked market. Open positions keep their records;
// the slots are simply no longer evaluated.
func (e *Engine) Untrack(trackedMarketID string) {
	e.mu.Lock()
	tm, ok := e.tracked[trackedMarketID]
	if ok {
		delete(e.tracked, trackedMarketID)
		delete(e.byEvent, tm.Link.EventID)
		for _, tok := range tm.Instrument.TokenIDs {
			delete(e.byToken, tok)
		}
		for _, side := range []domain.PositionSide{domain.PositionSideYes, domain.PositionSideNo} {
			key := slotKey{trackedMarketID: trackedMarketID, side: side}
			delete(e.slots, key)
			delete(e.lastPrice, key)
		}
	}
	e.mu.Unlock()
	if ok {
		e.updateCounts()
		e.logger.Info("market untracked", slog.String("tracked_market_id", trackedMarketID))
	}
}

// Tracked returns a snapshot of the tracked markets.
func (e *Engine) Tracked() []domain.TrackedMarket {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TrackedMarket, 0, len(e.tracked))
	for _, tm := range e.tracked {
		out = append(out, *tm)
	}
	return out
}

// TrackedTokens returns every outcome token under watch, for stream
// subscription.
func (e *Engine) TrackedTokens() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.byToken))
	for tok := range e.byToken {
		out = append(out, tok)
	}
	return out
}

// dispatch routes one update to the owning market worker. Updates for
// untracked markets are dropped.
func (e *Engine) dispatch(ctx context.Context, up domain.Update) {
	var key string
	e.mu.Lock()
	switch {
	case up.Price != nil:
		if sk, ok := e.byToken[up.Price.TokenID]; ok {
			key = sk.trackedMarketID
		}
	case up.Order != nil:
		if sk, ok := e.byOrder[up.Order.OrderID]; ok {
			key = sk.trackedMarketID
		}
	case up.Game != nil:
		key = e.byEvent[up.Game.Event.ID]
	}
	e.mu.Unlock()

	if key == "" {
		return
	}
	e.workers.dispatch(ctx, key, up)
}

// handle runs on the per-market worker goroutine; updates for one market
// never execute concurrently.
func (e *Engine) handle(ctx context.Context, trackedMarketID string, up domain.Update) {
	switch {
	case up.Price != nil:
		e.handlePrice(ctx, *up.Price)
	case up.Order != nil:
		e.handleOrder(ctx, *up.Order)
	case up.Game != nil:
		e.handleGame(ctx, trackedMarketID, up.Game.Event)
	}
}

func (e *Engine) handlePrice(ctx context.Context, up domain.PriceUpdate) {
	e.mu.Lock()
	sk, ok := e.byToken[up.TokenID]
	if !ok {
		e.mu.Unlock()
		return
	}
	tm := e.tracked[sk.trackedMarketID]
	s := e.slots[sk]
	if tm == nil || s == nil {
		e.mu.Unlock()
		return
	}
	e.lastPrice[sk] = up.Price

	// First price observation captures the baseline; subsequent ones are
	// rejected by the tracker and leave it untouched.
	if !tm.HasBaseline() {
		yesEquivalent := up.Price
		if sk.side == domain.PositionSideNo {
			yesEquivalent = 1 - up.Price
		}
		if err := e.baseline.Capture(tm, yesEquivalent, up.Timestamp); err != nil {
			e.logger.Warn("baseline capture failed", slog.String("error", err.Error()))
		}
	}

	var openPos *domain.Position
	if s.position != nil && !s.position.Closed() {
		s.position.CurrentPrice = up.Price
		s.position.UnrealizedPnL = (up.Price - s.position.EntryPrice) * s.position.Size
		posCopy := *s.position
		openPos = &posCopy
	}
	e.mu.Unlock()

	if openPos != nil {
		if err := e.positions.Update(ctx, *openPos); err != nil {
			e.logger.Warn("position update failed", slog.String("error", err.Error()))
		}
		e.publish(ctx, domain.EventPositionUpdated, *openPos, openPos.ID)
	}

	e.evaluate(ctx, sk, up.Price)
}

func (e *Engine) handleGame(ctx context.Context, trackedMarketID string, ev domain.ExternalEvent) {
	e.mu.Lock()
	tm := e.tracked[trackedMarketID]
	if tm == nil {
		e.mu.Unlock()
		return
	}
	e.games[ev.ID] = ev
	tm.Segment = ev.Segment
	keys := []slotKey{
		{trackedMarketID: trackedMarketID, side: domain.PositionSideYes},
		{trackedMarketID: trackedMarketID, side: domain.PositionSideNo},
	}
	prices := map[slotKey]float64{}
	for _, k := range keys {
		prices[k] = e.lastPrice[k]
	}
	e.mu.Unlock()

	for _, k := range keys {
		if p := prices[k]; p > 0 {
			e.evaluate(ctx, k, p)
		} else if ev.Status == domain.GameStatusFinished {
			// Exit on finish even without a fresh price; the closing
			// order executes at market.
			e.evaluate(ctx, k, 0)
		}
	}
}

func (e *Engine) handleOrder(ctx context.Context, up domain.OrderUpdate) {
	e.mu.Lock()
	sk, ok := e.byOrder[up.OrderID]
	if !ok {
		e.mu.Unlock()
		return
	}
	s := e.slots[sk]
	if s == nil {
		e.mu.Unlock()
		delete(e.byOrder, up.OrderID)
		return
	}
	state := s.state
	e.mu.Unlock()

	if err := e.orders.UpdateStatus(ctx, up.OrderID, up.Status, up.FilledSize); err != nil {
		e.logger.Warn("order status update failed",
			slog.String("order_id", up.OrderID),
			slog.String("error", err.Error()))
	}

	if !up.Status.Terminal() {
		return
	}

	switch {
	case state == StatePendingEntry && up.Status == domain.OrderStatusFilled:
		e.completeEntry(ctx, sk, up.FillPrice)
	case state == StatePendingEntry:
		e.abortEntry(ctx, sk, string(up.Status))
	case state == StatePendingExit && up.Status == domain.OrderStatusFilled:
		e.completeExit(ctx, sk, up.FillPrice)
	case state == StatePendingExit:
		// The closing order died; clear it so the next update retries.
		e.mu.Lock()
		s.exitOrderID = ""
		delete(e.byOrder, up.OrderID)
		e.mu.Unlock()
	}
}

// evaluate runs the entry/exit decision for one slot at the given price.
func (e *Engine) evaluate(ctx context.Context, sk slotKey, price float64) {
	e.mu.Lock()
	tm := e.tracked[sk.trackedMarketID]
	s := e.slots[sk]
	if tm == nil || s == nil {
		e.mu.Unlock()
		return
	}
	state := s.state
	game, haveGame := e.games[tm.Link.EventID]
	tmCopy := *tm
	e.mu.Unlock()

	switch state {
	case StateIdle:
		if haveGame && price > 0 {
			e.evaluateEntry(ctx, tmCopy, sk, game, price)
		}
	case StateOpen, StatePendingExit:
		e.evaluateExit(ctx, tmCopy, sk, game, haveGame, price)
	}
}

func (e *Engine) evaluateEntry(ctx context.Context, tm domain.TrackedMarket, sk slotKey, game domain.ExternalEvent, price float64) {
	if !e.cfg.TradingEnabled || e.venue == nil {
		return
	}
	if tm.Overrides != nil && (!tm.Overrides.Enabled || !tm.Overrides.AutoTrade) {
		return
	}
	if !tm.HasBaseline() {
		return
	}

	th, gs, err := e.resolveSettings(ctx, tm)
	if err != nil {
		e.logger.Warn("settings unavailable, skipping entry",
			slog.String("error", err.Error()))
		return
	}
	if !gs.BotEnabled {
		return
	}

	// Every entry condition must hold simultaneously.
	if !game.Live() {
		return
	}
	if !th.SegmentAllowed(game.Segment) {
		return
	}
	if game.ClockSeconds <= th.MinSecondsRemaining {
		return
	}
	base := SideBaseline(tm, sk.side)
	dropOK := base > 0 && (base-price)/base >= th.EntryDropPct
	absoluteOK := th.EntryAbsolute > 0 && price <= th.EntryAbsolute
	if !dropOK && !absoluteOK {
		return
	}

	cost := price * th.PositionSize
	if err := e.risk.AllowEntry(ctx, e.riskInputsFor(sk, cost), th, gs); err != nil {
		if errors.Is(err, domain.ErrRiskLimit) {
			e.logger.Info("entry blocked by risk limit", slog.String("reason", err.Error()))
			e.publish(ctx, domain.EventRiskAlert, map[string]string{
				"tracked_market_id": tm.ID,
				"reason":            err.Error(),
			}, "")
		}
		return
	}

	if !e.allowOrderRate(ctx) {
		e.logger.Debug("entry deferred by rate limit", slog.String("tracked_market_id", tm.ID))
		return
	}

	e.placeEntry(ctx, tm, sk, price, th.PositionSize)
}

// placeEntry creates the position record, transitions the slot, and
// submits the buy order. A rejected order reverts to idle so the slot is
// re-triable next cycle.
func (e *Engine) placeEntry(ctx context.Context, tm domain.TrackedMarket, sk slotKey, price, size float64) {
	tokenID := tm.Instrument.YesTokenID()
	if sk.side == domain.PositionSideNo {
		tokenID = tm.Instrument.NoTokenID()
	}

	pos := domain.Position{
		ID:              uuid.NewString(),
		TrackedMarketID: tm.ID,
		ConditionID:     tm.Instrument.ConditionID,
		TokenID:         tokenID,
		Side:            sk.side,
		EntryPrice:      price,
		CurrentPrice:    price,
		Size:            size,
		Cost:            price * size,
		Status:          domain.PositionStatusPending,
		OpenedAt:        time.Now().UTC(),
	}

	e.mu.Lock()
	s := e.slots[sk]
	if s == nil || s.state != StateIdle {
		e.mu.Unlock()
		return
	}
	if err := s.transition(StatePendingEntry); err != nil {
		e.mu.Unlock()
		return
	}
	s.position = &pos
	e.mu.Unlock()

	if err := e.positions.Create(ctx, pos); err != nil {
		e.logger.Error("position create failed", slog.String("error", err.Error()))
		e.abortEntry(ctx, sk, "persistence failure")
		return
	}

	order := domain.Order{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		TokenID:    tokenID,
		Side:       domain.OrderSideBuy,
		Price:      price,
		Size:       size,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	result, err := e.venue.PostOrder(ctx, order)
	if err != nil {
		e.logger.Warn("entry order failed",
			slog.String("tracked_market_id", tm.ID),
			slog.String("side", string(sk.side)),
			slog.String("error", err.Error()))
		e.abortEntry(ctx, sk, "order failed")
		return
	}
	if result.OrderID != "" {
		order.ID = result.OrderID
	}
	order.Status = result.Status
	if err := e.orders.Create(ctx, order); err != nil {
		e.logger.Warn("order create failed", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	if s := e.slots[sk]; s != nil {
		s.entryOrderID = order.ID
	}
	e.byOrder[order.ID] = sk
	e.mu.Unlock()

	e.logger.Info("entry order placed",
		slog.String("tracked_market_id", tm.ID),
		slog.String("side", string(sk.side)),
		slog.Float64("price", price),
		slog.Float64("size", size),
		slog.String("order_id", order.ID))

	switch result.Status {
	case domain.OrderStatusFilled:
		fill := result.FilledPrice
		if fill <= 0 {
			fill = price
		}
		e.completeEntry(ctx, sk, fill)
	case domain.OrderStatusRejected, domain.OrderStatusCancelled:
		e.abortEntry(ctx, sk, string(result.Status))
	}
}

func (e *Engine) completeEntry(ctx context.Context, sk slotKey, fillPrice float64) {
	e.mu.Lock()
	s := e.slots[sk]
	if s == nil || s.state != StatePendingEntry || s.position == nil {
		e.mu.Unlock()
		return
	}
	if err := s.transition(StateOpen); err != nil {
		e.mu.Unlock()
		return
	}
	if fillPrice > 0 {
		s.position.EntryPrice = fillPrice
		s.position.Cost = fillPrice * s.position.Size
	}
	s.position.Status = domain.PositionStatusOpen
	delete(e.byOrder, s.entryOrderID)
	s.entryOrderID = ""
	pos := *s.position
	e.mu.Unlock()

	if err := e.positions.Update(ctx, pos); err != nil {
		e.logger.Warn("position update failed", slog.String("error", err.Error()))
	}
	e.updateCounts()
	e.publish(ctx, domain.EventTradeExecuted, pos, pos.ID)
	e.publish(ctx, domain.EventPositionOpened, pos, pos.ID)
	e.logger.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("side", string(pos.Side)),
		slog.Float64("entry_price", pos.EntryPrice))
}

func (e *Engine) abortEntry(ctx context.Context, sk slotKey, reason string) {
	e.mu.Lock()
	s := e.slots[sk]
	if s == nil || s.state != StatePendingEntry {
		e.mu.Unlock()
		return
	}
	if err := s.transition(StateIdle); err != nil {
		e.mu.Unlock()
		return
	}
	var pos *domain.Position
	if s.position != nil {
		now := time.Now().UTC()
		s.position.Status = domain.PositionStatusClosed
		s.position.ClosedAt = &now
		posCopy := *s.position
		pos = &posCopy
		s.position = nil
	}
	delete(e.byOrder, s.entryOrderID)
	s.entryOrderID = ""
	e.mu.Unlock()

	if pos != nil {
		if err := e.positions.Update(ctx, *pos); err != nil {
			e.logger.Warn("position update failed", slog.String("error", err.Error()))
		}
	}
	e.updateCounts()
	e.logger.Info("entry aborted", slog.String("reason", reason),
		slog.String("tracked_market_id", sk.trackedMarketID))
}

func (e *Engine) evaluateExit(ctx context.Context, tm domain.TrackedMarket, sk slotKey, game domain.ExternalEvent, haveGame bool, price float64) {
	e.mu.Lock()
	s := e.slots[sk]
	if s == nil || s.position == nil {
		e.mu.Unlock()
		return
	}
	state := s.state
	exitInFlight := s.exitOrderID != ""
	pos := *s.position
	e.mu.Unlock()

	// A pending exit with an order in flight waits for its fill; one
	// without (transient placement failure) retries below.
	if state == StatePendingExit && exitInFlight {
		return
	}

	th, _, err := e.resolveSettings(ctx, tm)
	if err != nil {
		e.logger.Warn("settings unavailable, skipping exit check",
			slog.String("error", err.Error()))
		return
	}

	var reason string
	ret := pos.UnrealizedReturn()
	switch {
	case state == StatePendingExit:
		reason = "retry"
	case th.TakeProfitPct > 0 && ret >= th.TakeProfitPct:
		reason = "take_profit"
	case th.StopLossPct > 0 && ret <= -th.StopLossPct:
		reason = "stop_loss"
	case haveGame && th.SegmentRestricted(game.Segment):
		reason = "restricted_segment"
	case haveGame && game.Status == domain.GameStatusFinished:
		reason = "game_finished"
	}
	if reason == "" {
		return
	}

	exitPrice := price
	if exitPrice <= 0 {
		exitPrice = pos.CurrentPrice
	}
	e.placeExit(ctx, sk, pos, exitPrice, reason)
}

func (e *Engine) placeExit(ctx context.Context, sk slotKey, pos domain.Position, price float64, reason string) {
	if e.venue == nil {
		return
	}

	e.mu.Lock()
	s := e.slots[sk]
	if s == nil {
		e.mu.Unlock()
		return
	}
	if s.state == StateOpen {
		if err := s.transition(StatePendingExit); err != nil {
			e.mu.Unlock()
			return
		}
		s.position.Status = domain.PositionStatusClosing
	}
	posID := s.position.ID
	pos = *s.position
	e.mu.Unlock()

	if err := e.positions.Update(ctx, pos); err != nil {
		e.logger.Warn("position update failed", slog.String("error", err.Error()))
	}

	order := domain.Order{
		ID:         uuid.NewString(),
		PositionID: posID,
		TokenID:    pos.TokenID,
		Side:       domain.OrderSideSell,
		Price:      price,
		Size:       pos.Size,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	result, err := e.venue.PostOrder(ctx, order)
	if err != nil {
		// Stay pending_exit; the next update retries.
		e.logger.Warn("exit order failed, will retry",
			slog.String("position_id", posID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	if result.OrderID != "" {
		order.ID = result.OrderID
	}
	order.Status = result.Status
	if err := e.orders.Create(ctx, order); err != nil {
		e.logger.Warn("order create failed", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	if s := e.slots[sk]; s != nil {
		s.exitOrderID = order.ID
	}
	e.byOrder[order.ID] = sk
	e.mu.Unlock()

	e.logger.Info("exit order placed",
		slog.String("position_id", posID),
		slog.String("reason", reason),
		slog.Float64("price", price))

	if result.Status == domain.OrderStatusFilled {
		fill := result.FilledPrice
		if fill <= 0 {
			fill = price
		}
		e.completeExit(ctx, sk, fill)
	} else if result.Status == domain.OrderStatusRejected || result.Status == domain.OrderStatusCancelled {
		e.mu.Lock()
		if s := e.slots[sk]; s != nil {
			s.exitOrderID = ""
		}
		delete(e.byOrder, order.ID)
		e.mu.Unlock()
	}
}

func (e *Engine) completeExit(ctx context.Context, sk slotKey, fillPrice float64) {
	e.mu.Lock()
	s := e.slots[sk]
	if s == nil || s.state != StatePendingExit || s.position == nil {
		e.mu.Unlock()
		return
	}
	if err := s.transition(StateClosed); err != nil {
		e.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	p := s.position
	if fillPrice <= 0 {
		fillPrice = p.CurrentPrice
	}
	p.Status = domain.PositionStatusClosed
	p.ExitPrice = &fillPrice
	p.ClosedAt = &now
	p.RealizedPnL = (fillPrice - p.EntryPrice) * p.Size
	p.UnrealizedPnL = 0
	pos := *p
	delete(e.byOrder, s.exitOrderID)
	s.exitOrderID = ""
	// The slot instance is terminal; a fresh idle slot lets the market
	// re-enter if configuration still allows it.
	e.slots[sk] = newSlot(sk)
	e.mu.Unlock()

	if err := e.positions.Update(ctx, pos); err != nil {
		e.logger.Warn("position update failed", slog.String("error", err.Error()))
	}
	e.updateCounts()
	e.publish(ctx, domain.EventTradeExecuted, pos, pos.ID)
	e.publish(ctx, domain.EventPositionClosed, pos, pos.ID)

	if e.board != nil {
		if pnl, err := e.risk.DailyRealizedPnL(ctx); err == nil {
			e.board.SetDailyPnL(pnl)
		}
	}
	e.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.Float64("exit_price", fillPrice),
		slog.Float64("realized_pnl", pos.RealizedPnL))
}

func (e *Engine) resolveSettings(ctx context.Context, tm domain.TrackedMarket) (domain.Thresholds, domain.GlobalSettings, error) {
	def, err := e.settings.SportDefaults(ctx, tm.Sport)
	if err != nil {
		return domain.Thresholds{}, domain.GlobalSettings{}, err
	}
	gs, err := e.settings.Global(ctx)
	if err != nil {
		return domain.Thresholds{}, domain.GlobalSettings{}, err
	}
	return domain.Resolve(def, tm.Overrides), gs, nil
}

// riskInputsFor computes current exposure under the engine lock.
func (e *Engine) riskInputsFor(sk slotKey, newCost float64) riskInputs {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := riskInputs{newCost: newCost}
	for key, s := range e.slots {
		if !s.active() {
			continue
		}
		in.totalPositions++
		if s.position != nil {
			in.totalExposure += s.position.Cost
		}
		if key.trackedMarketID == sk.trackedMarketID {
			in.marketPositions++
		}
	}
	return in
}

func (e *Engine) allowOrderRate(ctx context.Context) bool {
	if e.limiter == nil || e.cfg.OrderRateLimit <= 0 {
		return true
	}
	ok, err := e.limiter.Allow(ctx, "orders", e.cfg.OrderRateLimit, e.cfg.OrderRateWindow)
	if err != nil {
		// Fail closed for order placement.
		e.logger.Warn("rate limiter unavailable, deferring entry",
			slog.String("error", err.Error()))
		return false
	}
	return ok
}

func (e *Engine) updateCounts() {
	if e.board == nil {
		return
	}
	e.mu.Lock()
	tracked := len(e.tracked)
	open := 0
	for _, s := range e.slots {
		if s.active() {
			open++
		}
	}
	e.mu.Unlock()
	e.board.SetCounts(tracked, open)
}

// publish pushes one normalized event onto the signal bus for the
// observer broadcaster. Best-effort: failures are logged and dropped.
func (e *Engine) publish(ctx context.Context, t domain.EventType, data any, correlationID string) {
	if e.bus == nil {
		return
	}
	ev := domain.BotEvent{
		Type:          t,
		Data:          data,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, eventsChannel, raw); err != nil {
		e.logger.Debug("event publish failed",
			slog.String("event_type", string(t)),
			slog.String("error", err.Error()))
	}
}
