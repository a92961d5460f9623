package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type memSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *memSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return s.err
}

func (s *memSender) Name() string { return s.name }

func (s *memSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.titles))
	copy(out, s.titles)
	return out
}

type memBus struct {
	ch chan []byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func TestRunForwardsAllowedEvents(t *testing.T) {
	bus := &memBus{ch: make(chan []byte, 8)}
	sender := &memSender{name: "test"}
	n := New([]Sender{sender}, []string{"risk_alert"}, bus, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	publish := func(t domain.EventType) {
		payload, _ := json.Marshal(domain.BotEvent{Type: t, Timestamp: time.Now().UTC()})
		bus.ch <- payload
	}
	publish(domain.EventPositionOpened) // filtered out
	publish(domain.EventRiskAlert)

	require.Eventually(t, func() bool { return len(sender.sent()) == 1 },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"Risk alert"}, sender.sent())

	cancel()
	<-done
}

func TestDefaultFilterDropsHeartbeats(t *testing.T) {
	n := New(nil, nil, nil, testLogger)
	assert.False(t, n.wants(domain.EventHeartbeat))
	assert.True(t, n.wants(domain.EventPositionClosed))
	assert.True(t, n.wants(domain.EventRiskAlert))
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	failing := &memSender{name: "down", err: errors.New("boom")}
	healthy := &memSender{name: "up"}
	n := New([]Sender{failing, healthy}, nil, nil, testLogger)

	n.dispatch(context.Background(), "Title", "body")

	assert.Len(t, failing.sent(), 1)
	assert.Len(t, healthy.sent(), 1)
}

func TestFormatTitle(t *testing.T) {
	assert.Equal(t, "Position opened", formatTitle(domain.EventPositionOpened))
	assert.Equal(t, "Trade executed", formatTitle(domain.EventTradeExecuted))
	assert.Equal(t, "game update", formatTitle(domain.EventType("game_update")))
}
