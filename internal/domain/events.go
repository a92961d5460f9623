package domain

import "time"

// EventType names a normalized domain event published to observers.
type EventType string

const (
	EventTradeExecuted    EventType = "trade_executed"
	EventPositionOpened   EventType = "position_opened"
	EventPositionUpdated  EventType = "position_updated"
	EventPositionClosed   EventType = "position_closed"
	EventBotStatusChanged EventType = "bot_status_changed"
	EventRiskAlert        EventType = "risk_alert"
	EventHeartbeat        EventType = "heartbeat"
)

// BotEvent is the envelope pushed to every connected observer. Delivery is
// best-effort and at-most-once per connection; disconnected observers
// backfill through the query interface, not by replay.
type BotEvent struct {
	Type          EventType `json:"event_type"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// PriceUpdate is a normalized price observation from the venue stream.
type PriceUpdate struct {
	TokenID   string
	Price     float64
	BestBid   float64
	BestAsk   float64
	Timestamp time.Time
}

// OrderUpdate is a normalized order/fill event from the venue user stream.
type OrderUpdate struct {
	OrderID    string
	TokenID    string
	Status     OrderStatus
	FilledSize float64
	FillPrice  float64
	Timestamp  time.Time
}

// GameUpdate carries refreshed game state from the polling feed.
type GameUpdate struct {
	Event ExternalEvent
}

// Update is the union of messages delivered to the trading engine over its
// internal event channel. Exactly one field is non-nil.
type Update struct {
	Price *PriceUpdate
	Order *OrderUpdate
	Game  *GameUpdate
}
