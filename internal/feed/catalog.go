package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// CatalogSource fetches the tradable markets for one sport.
type CatalogSource interface {
	SportsMarkets(ctx context.Context, sport string) ([]domain.MarketInstrument, error)
}

// Catalog polls the venue discovery API and keeps an ordered snapshot of
// tradable market instruments per sport. Snapshot order is the venue's
// catalog order, which downstream matching relies on for tie-breaking.
type Catalog struct {
	source   CatalogSource
	sports   []string
	interval time.Duration
	board    *domain.StatusBoard
	logger   *slog.Logger

	// onRefresh, when set, runs after every completed refresh with the
	// full new snapshot. The matching pipeline hangs off this hook.
	onRefresh func([]domain.MarketInstrument)

	mu          sync.RWMutex
	instruments []domain.MarketInstrument
	byCondition map[string]domain.MarketInstrument
}

// NewCatalog creates a market catalog poller.
func NewCatalog(source CatalogSource, sports []string, interval time.Duration, board *domain.StatusBoard, logger *slog.Logger) *Catalog {
	return &Catalog{
		source:      source,
		sports:      sports,
		interval:    interval,
		board:       board,
		logger:      logger.With(slog.String("component", "catalog")),
		byCondition: make(map[string]domain.MarketInstrument),
	}
}

// OnRefresh registers the refresh hook. Must be called before Run.
func (c *Catalog) OnRefresh(fn func([]domain.MarketInstrument)) {
	c.onRefresh = fn
}

// Run refreshes the catalog until ctx is cancelled, starting with an
// immediate fetch so the matcher has markets before the first interval
// elapses.
func (c *Catalog) Run(ctx context.Context) error {
	c.logger.Info("catalog started",
		slog.Int("sports", len(c.sports)),
		slog.Duration("interval", c.interval))
	defer c.logger.Info("catalog stopped")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// Snapshot returns the current instruments in catalog order.
func (c *Catalog) Snapshot() []domain.MarketInstrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.MarketInstrument, len(c.instruments))
	copy(out, c.instruments)
	return out
}

// Lookup returns one instrument by condition identifier.
func (c *Catalog) Lookup(conditionID string) (domain.MarketInstrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.byCondition[conditionID]
	return inst, ok
}

func (c *Catalog) refresh(ctx context.Context) {
	var next []domain.MarketInstrument
	failed := false
	for _, sport := range c.sports {
		markets, err := c.source.SportsMarkets(ctx, sport)
		if err != nil {
			c.logger.Warn("catalog fetch failed",
				slog.String("sport", sport),
				slog.String("error", err.Error()))
			failed = true
			continue
		}
		next = append(next, markets...)
	}

	// A wholly failed cycle keeps the previous snapshot instead of
	// publishing an empty catalog.
	if failed && len(next) == 0 {
		return
	}

	byCondition := make(map[string]domain.MarketInstrument, len(next))
	for _, inst := range next {
		byCondition[inst.ConditionID] = inst
	}

	c.mu.Lock()
	c.instruments = next
	c.byCondition = byCondition
	c.mu.Unlock()

	if c.board != nil {
		c.board.TouchCatalogPoll(time.Now().UTC())
	}
	c.logger.Debug("catalog refreshed", slog.Int("markets", len(next)))

	if c.onRefresh != nil {
		c.onRefresh(next)
	}
}
