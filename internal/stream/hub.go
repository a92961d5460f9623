package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/courtsidelabs/linedrop/internal/domain"
	"github.com/courtsidelabs/linedrop/internal/platform/polymarket"
)

// Hub owns the venue push feeds: the public market feed for prices and,
// when credentials are present, the user feed for order and fill events.
// Inbound frames are normalized into domain updates, the latest price is
// written to the cache, and everything is forwarded to the engine channel.
type Hub struct {
	market *Conn
	user   *Conn

	out    chan<- domain.Update
	prices domain.PriceCache
	board  *domain.StatusBoard
	logger *slog.Logger

	userAuth *polymarket.WSAuth

	// runCtx bounds blocking forwards; set by Run before the feeds start.
	runCtx context.Context
}

// NewHub creates a stream hub. userAuth nil disables the user feed
// (monitor mode). out receives normalized updates; it is never closed by
// the hub.
func NewHub(marketURL, userURL string, cfg Config, userAuth *polymarket.WSAuth, out chan<- domain.Update, prices domain.PriceCache, board *domain.StatusBoard, logger *slog.Logger) *Hub {
	h := &Hub{
		out:      out,
		prices:   prices,
		board:    board,
		logger:   logger.With(slog.String("component", "stream_hub")),
		userAuth: userAuth,
		runCtx:   context.Background(),
	}

	h.market = NewConn("market", marketURL, cfg, h.handleMarketFrame, func(up bool) {
		if board != nil {
			board.SetStreamConnected(false, up)
		}
	}, logger)

	if userAuth != nil {
		h.user = NewConn("user", userURL, cfg, h.handleUserFrame, func(up bool) {
			if board != nil {
				board.SetStreamConnected(true, up)
			}
		}, logger)
	}
	return h
}

// Run supervises both feeds until ctx is cancelled or either feed
// exhausts its reconnect budget.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	h.runCtx = ctx
	g.Go(func() error { return h.market.Run(ctx) })
	if h.user != nil {
		g.Go(func() error { return h.user.Run(ctx) })
	}
	return g.Wait()
}

// WatchTokens subscribes the market feed to the given outcome tokens.
// tokenIDs is the complete current watch set; it replaces any previous
// subscription and persists across reconnects.
func (h *Hub) WatchTokens(tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	return h.market.Subscribe(polymarket.WSSubscribe{
		Type:      "market",
		AssetIDs:  tokenIDs,
		Operation: "subscribe",
	})
}

// WatchUserMarkets subscribes the user feed to order events for the given
// condition identifiers, replacing any previous subscription. No-op
// without credentials.
func (h *Hub) WatchUserMarkets(conditionIDs []string) error {
	if h.user == nil || len(conditionIDs) == 0 {
		return nil
	}
	return h.user.Subscribe(polymarket.WSSubscribe{
		Type:      "user",
		Markets:   conditionIDs,
		Operation: "subscribe",
		Auth:      h.userAuth,
	})
}

// handleMarketFrame decodes one market-feed frame. The venue batches
// messages into JSON arrays; single objects appear during handshakes.
func (h *Hub) handleMarketFrame(raw []byte) {
	for _, msg := range splitFrames(raw) {
		var env polymarket.WSEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			h.logger.Debug("undecodable market frame", slog.Int("len", len(msg)))
			continue
		}

		var up domain.PriceUpdate
		switch env.EventType {
		case "book":
			var m polymarket.WSBookMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			up = m.ToPriceUpdate()
		case "price_change":
			var m polymarket.WSPriceChange
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			up = m.ToPriceUpdate()
		case "last_trade_price":
			var m polymarket.WSLastTradePrice
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			up = m.ToPriceUpdate()
		default:
			continue
		}
		if up.TokenID == "" || up.Price <= 0 {
			continue
		}
		h.publishPrice(up)
	}
}

// handleUserFrame decodes one user-feed frame into order updates.
func (h *Hub) handleUserFrame(raw []byte) {
	for _, msg := range splitFrames(raw) {
		var env polymarket.WSEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		if env.EventType != "order" && env.EventType != "trade" {
			continue
		}
		var m polymarket.WSOrderMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			continue
		}
		ou := m.ToOrderUpdate()
		if ou.OrderID == "" {
			continue
		}
		h.forwardOrder(domain.Update{Order: &ou})
	}
}

func (h *Hub) publishPrice(up domain.PriceUpdate) {
	if h.prices != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.prices.SetPrice(ctx, up.TokenID, up.Price, up.Timestamp); err != nil {
			h.logger.Warn("price cache write failed",
				slog.String("token_id", up.TokenID),
				slog.String("error", err.Error()))
		}
		cancel()
	}
	h.forward(domain.Update{Price: &up})
}

// forward drops the update when the engine channel is full; the latest
// price is always recoverable from the cache and the next frame.
func (h *Hub) forward(up domain.Update) {
	select {
	case h.out <- up:
	default:
		h.logger.Warn("engine channel full, dropping update")
	}
}

// forwardOrder blocks until the engine accepts the update. An order event
// is the only thing that moves a slot out of a pending state; dropping one
// would strand the slot and its capital.
func (h *Hub) forwardOrder(up domain.Update) {
	select {
	case h.out <- up:
	case <-h.runCtx.Done():
	}
}

// splitFrames returns the individual JSON objects in a frame, unwrapping
// the venue's array batching.
func splitFrames(raw []byte) [][]byte {
	trimmed := raw
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] != '[' {
		return [][]byte{trimmed}
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil
	}
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}
