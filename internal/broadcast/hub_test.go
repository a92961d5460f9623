package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

type memBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemBus() *memBus { return &memBus{subs: make(map[string][]chan []byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

// freePort reserves an ephemeral port and releases it for the hub to bind.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestObserverReceivesBusEvents(t *testing.T) {
	bus := newMemBus()
	board := domain.NewStatusBoard("trade")
	port := freePort(t)
	hub := NewHub(Config{Port: port, HeartbeatInterval: time.Hour}, bus, board, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws", port), nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	// First frame is the connect-time status event.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var status domain.BotEvent
	require.NoError(t, json.Unmarshal(frame, &status))
	assert.Equal(t, domain.EventBotStatusChanged, status.Type)

	// An engine event published on the bus reaches the observer.
	ev := domain.BotEvent{Type: domain.EventPositionOpened, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	// The bus subscription races connection setup; publish until the
	// frame lands.
	got := make(chan domain.BotEvent, 1)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var rec domain.BotEvent
			if json.Unmarshal(frame, &rec) == nil && rec.Type == domain.EventPositionOpened {
				got <- rec
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		bus.Publish(ctx, eventsChannel, payload)
		select {
		case rec := <-got:
			assert.Equal(t, domain.EventPositionOpened, rec.Type)
			return true
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond)
}

func TestHeartbeatCarriesStatusSnapshot(t *testing.T) {
	board := domain.NewStatusBoard("monitor")
	board.SetCounts(3, 1)
	hub := NewHub(Config{Port: 0}, newMemBus(), board, testLogger)

	frame, err := hub.heartbeatFrame()
	require.NoError(t, err)

	var ev domain.BotEvent
	require.NoError(t, json.Unmarshal(frame, &ev))
	assert.Equal(t, domain.EventHeartbeat, ev.Type)
	require.NotNil(t, ev.Data)
}

func TestFanOutDropsSlowObserver(t *testing.T) {
	hub := NewHub(Config{Port: 0}, newMemBus(), nil, testLogger)
	slow := &client{send: make(chan []byte)} // unbuffered, never drained
	hub.clients[slow] = true

	done := make(chan struct{})
	go func() {
		hub.fanOut([]byte(`{"event_type":"heartbeat"}`))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fanOut blocked on a slow observer")
	}
}

func TestStatusEndpoint(t *testing.T) {
	board := domain.NewStatusBoard("trade")
	board.SetEnabled(true)
	hub := NewHub(Config{Port: 0}, newMemBus(), board, testLogger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	hub.handleStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap domain.BotStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "trade", snap.Mode)
	assert.True(t, snap.BotEnabled)
}
