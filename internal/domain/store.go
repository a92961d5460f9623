package domain

import (
	"context"
	"time"
)

// PositionStore is the persistence boundary for positions. The trading
// engine is the only writer; dashboards and other collaborators read
// derived views through this interface.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Update(ctx context.Context, p Position) error
	Get(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByTrackedMarket(ctx context.Context, trackedMarketID string) ([]Position, error)
	// ListClosedBefore returns closed positions whose close time is strictly
	// before the cutoff. Used by the cold-storage archiver.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	// RealizedPnLSince sums realized P&L over positions closed at or after
	// the given time. Used for the daily loss cap.
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// OrderStore is the persistence boundary for venue orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus, filledSize float64) error
	Get(ctx context.Context, id string) (Order, error)
	ListByPosition(ctx context.Context, positionID string) ([]Order, error)
}

// SettingsProvider is the read-only configuration surface the core consumes.
// The settings themselves are owned by the onboarding/dashboard collaborator.
type SettingsProvider interface {
	SportDefaults(ctx context.Context, sport string) (SportDefaults, error)
	MarketOverrides(ctx context.Context, conditionID string) (*MarketOverrides, error)
	Global(ctx context.Context) (GlobalSettings, error)
}

// BlobWriter writes serialized archives to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
