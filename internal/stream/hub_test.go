package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (m *memPriceCache) SetPrice(_ context.Context, tokenID string, price float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	m.prices[tokenID] = price
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, tokenID string) (float64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[tokenID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Now(), nil
}

func (m *memPriceCache) GetPrices(_ context.Context, tokenIDs []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range tokenIDs {
		if p, _, err := m.GetPrice(context.Background(), id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

func newTestHub(out chan domain.Update, cache domain.PriceCache) *Hub {
	return NewHub("ws://unused/market", "ws://unused/user", fastConfig(), nil,
		out, cache, domain.NewStatusBoard("monitor"), testLogger)
}

func TestMarketFrameBookToPriceUpdate(t *testing.T) {
	out := make(chan domain.Update, 4)
	cache := &memPriceCache{}
	hub := newTestHub(out, cache)

	frame := []byte(`[{"event_type":"book","asset_id":"tok1",
		"bids":[{"price":"0.60","size":"10"},{"price":"0.68","size":"5"}],
		"asks":[{"price":"0.80","size":"10"},{"price":"0.72","size":"5"}],
		"timestamp":"1700000000000"}]`)
	hub.handleMarketFrame(frame)

	select {
	case up := <-out:
		require.NotNil(t, up.Price)
		assert.Equal(t, "tok1", up.Price.TokenID)
		assert.InDelta(t, 0.70, up.Price.Price, 1e-9) // mid of best bid 0.68 / best ask 0.72
	default:
		t.Fatal("expected a price update")
	}

	p, _, err := cache.GetPrice(context.Background(), "tok1")
	require.NoError(t, err)
	assert.InDelta(t, 0.70, p, 1e-9)
}

func TestMarketFramePriceChange(t *testing.T) {
	out := make(chan domain.Update, 4)
	hub := newTestHub(out, nil)

	hub.handleMarketFrame([]byte(`{"event_type":"price_change","asset_id":"tok2","price":"0.55","timestamp":"1700000000000"}`))

	select {
	case up := <-out:
		require.NotNil(t, up.Price)
		assert.Equal(t, 0.55, up.Price.Price)
	default:
		t.Fatal("expected a price update")
	}
}

func TestMarketFrameIgnoresUnknownAndMalformed(t *testing.T) {
	out := make(chan domain.Update, 4)
	hub := newTestHub(out, nil)

	hub.handleMarketFrame([]byte(`{"event_type":"tick_size_change","asset_id":"tok"}`))
	hub.handleMarketFrame([]byte(`not json`))
	hub.handleMarketFrame([]byte(`{"event_type":"price_change","asset_id":"","price":"0.5"}`))

	assert.Empty(t, out)
}

func TestUserFrameOrderUpdate(t *testing.T) {
	out := make(chan domain.Update, 4)
	hub := newTestHub(out, nil)

	hub.handleUserFrame([]byte(`{"event_type":"order","id":"ord1","asset_id":"tok1","status":"MATCHED","size_matched":"10","price":"0.40","timestamp":"1700000000000"}`))

	select {
	case up := <-out:
		require.NotNil(t, up.Order)
		assert.Equal(t, "ord1", up.Order.OrderID)
		assert.Equal(t, domain.OrderStatusFilled, up.Order.Status)
		assert.Equal(t, 10.0, up.Order.FilledSize)
		assert.Equal(t, 0.40, up.Order.FillPrice)
	default:
		t.Fatal("expected an order update")
	}
}

func TestPriceUpdatesDropWhenChannelFull(t *testing.T) {
	out := make(chan domain.Update, 1)
	hub := newTestHub(out, nil)

	hub.handleMarketFrame([]byte(`{"event_type":"price_change","asset_id":"a","price":"0.5","timestamp":"1"}`))
	// Channel now full; a price update must not block.
	hub.handleMarketFrame([]byte(`{"event_type":"price_change","asset_id":"b","price":"0.6","timestamp":"1"}`))

	assert.Len(t, out, 1)
}

func TestOrderUpdatesBlockInsteadOfDropping(t *testing.T) {
	out := make(chan domain.Update, 1)
	hub := newTestHub(out, nil)

	hub.handleMarketFrame([]byte(`{"event_type":"price_change","asset_id":"a","price":"0.5","timestamp":"1"}`))

	// Channel full: the order update must wait for the consumer, never
	// vanish, or the position it confirms wedges in a pending state.
	delivered := make(chan struct{})
	go func() {
		hub.handleUserFrame([]byte(`{"event_type":"order","id":"ord1","asset_id":"tok1","status":"MATCHED","size_matched":"10","price":"0.40","timestamp":"1700000000000"}`))
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("order update was dropped while the channel was full")
	case <-time.After(50 * time.Millisecond):
	}

	up := <-out
	require.NotNil(t, up.Price)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("order update not delivered after the channel drained")
	}
	up = <-out
	require.NotNil(t, up.Order)
	assert.Equal(t, "ord1", up.Order.OrderID)
}
