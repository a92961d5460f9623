package domain

import "time"

// PositionSide is the market outcome a position is taken on.
type PositionSide string

const (
	PositionSideYes PositionSide = "yes"
	PositionSideNo  PositionSide = "no"
)

// PositionStatus tracks the position lifecycle. Pending and closing states
// mean an order is in flight; the transition completes only when the order
// reaches a terminal state.
type PositionStatus string

const (
	PositionStatusPending PositionStatus = "pending"
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// Position is one open or historical trade against a tracked market.
// Invariant: at most one non-closed Position exists per (TrackedMarket,
// side) pair at any time. Positions are mutated only by the trading engine.
type Position struct {
	ID              string
	TrackedMarketID string
	ConditionID     string
	TokenID         string
	Side            PositionSide
	EntryPrice      float64
	CurrentPrice    float64
	Size            float64
	Cost            float64 // entry_price * size
	UnrealizedPnL   float64
	RealizedPnL     float64
	Status          PositionStatus
	OpenedAt        time.Time
	ClosedAt        *time.Time
	ExitPrice       *float64
}

// Closed reports whether the position has reached its terminal state.
func (p Position) Closed() bool {
	return p.Status == PositionStatusClosed
}

// UnrealizedReturn is the fractional gain or loss relative to entry cost,
// e.g. 0.375 for a 37.5% unrealized gain. Zero when the position has no
// entry price.
func (p Position) UnrealizedReturn() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}
