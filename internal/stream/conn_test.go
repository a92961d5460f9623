package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

var testLogger = slog.New(slog.DiscardHandler)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer starts a test websocket server whose handler runs once per
// connection. Returns the ws:// URL.
func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastConfig() Config {
	return Config{
		KeepAlive:            20 * time.Millisecond,
		StaleTimeout:         200 * time.Millisecond,
		ReconnectBase:        10 * time.Millisecond,
		ReconnectMax:         40 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func TestKeepAlivePing(t *testing.T) {
	pings := make(chan string, 8)
	url := wsServer(t, func(ws *websocket.Conn) {
		for {
			mt, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				pings <- string(msg)
			}
		}
	})

	conn := NewConn("market", url, fastConfig(), nil, nil, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	select {
	case msg := <-pings:
		assert.Equal(t, "PING", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive received")
	}
}

func TestSubscriptionReplayedAfterReconnect(t *testing.T) {
	var sessions atomic.Int32
	subs := make(chan string, 8)
	url := wsServer(t, func(ws *websocket.Conn) {
		n := sessions.Add(1)
		for {
			mt, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(msg), "subscribe") {
				subs <- string(msg)
				if n == 1 {
					// Kill the first session right after the subscribe
					// to force a reconnect.
					return
				}
			}
		}
	})

	conn := NewConn("market", url, fastConfig(), nil, nil, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, waitFor(time.Second, func() bool { return sessions.Load() >= 1 }))
	require.NoError(t, conn.Subscribe(map[string]string{"operation": "subscribe", "type": "market"}))

	// The same subscription must arrive on both sessions.
	for i := 0; i < 2; i++ {
		select {
		case msg := <-subs:
			assert.Contains(t, msg, "subscribe")
		case <-time.After(2 * time.Second):
			t.Fatalf("subscription %d not received", i+1)
		}
	}
	assert.GreaterOrEqual(t, sessions.Load(), int32(2))
}

func TestReconnectReplaysOnlyCurrentSubscription(t *testing.T) {
	var sessions atomic.Int32
	type frame struct {
		session int32
		msg     string
	}
	frames := make(chan frame, 16)
	url := wsServer(t, func(ws *websocket.Conn) {
		n := sessions.Add(1)
		received := 0
		for {
			mt, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.Contains(string(msg), "subscribe") {
				frames <- frame{session: n, msg: string(msg)}
				received++
				if n == 1 && received == 5 {
					// Kill the first session after the watch set has
					// grown, forcing a reconnect.
					return
				}
			}
		}
	})

	cfg := fastConfig()
	cfg.StaleTimeout = 5 * time.Second
	conn := NewConn("market", url, cfg, nil, nil, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, waitFor(time.Second, func() bool { return sessions.Load() >= 1 }))

	// The watch set grows over five refreshes; each call carries the
	// complete current set.
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Subscribe(map[string]any{
			"operation":  "subscribe",
			"type":       "market",
			"assets_ids": []string{"tok-1", "tok-2"},
		}))
	}
	for i := 0; i < 5; i++ {
		select {
		case f := <-frames:
			assert.Equal(t, int32(1), f.session)
		case <-time.After(2 * time.Second):
			t.Fatalf("live subscribe %d not received", i+1)
		}
	}

	require.NoError(t, waitFor(2*time.Second, func() bool { return sessions.Load() >= 2 }))

	// The second session must see the current subscription exactly once,
	// not the whole history.
	replayed := 0
	deadline := time.After(500 * time.Millisecond)
collect:
	for {
		select {
		case f := <-frames:
			if f.session >= 2 {
				replayed++
			}
		case <-deadline:
			break collect
		}
	}
	assert.Equal(t, 1, replayed, "reconnect must replay one subscribe frame")
}

func TestStaleConnectionForcesReconnect(t *testing.T) {
	var sessions atomic.Int32
	url := wsServer(t, func(ws *websocket.Conn) {
		sessions.Add(1)
		// Never send anything; discard inbound frames so the socket
		// stays up until the client declares it stale.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := fastConfig()
	cfg.StaleTimeout = 60 * time.Millisecond
	conn := NewConn("market", url, cfg, nil, nil, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	require.NoError(t, waitFor(2*time.Second, func() bool { return sessions.Load() >= 2 }),
		"stale timeout should have forced at least one reconnect")
}

func TestReconnectCeilingIsTerminal(t *testing.T) {
	// A server that refuses the upgrade makes every dial fail.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := NewConn("market", url, fastConfig(), nil, nil, testLogger)
	err := conn.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStreamTerminal)
}

func TestCancelSuppressesReconnect(t *testing.T) {
	var sessions atomic.Int32
	url := wsServer(t, func(ws *websocket.Conn) {
		sessions.Add(1)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := fastConfig()
	cfg.StaleTimeout = 5 * time.Second
	conn := NewConn("market", url, cfg, nil, nil, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	require.NoError(t, waitFor(time.Second, func() bool { return sessions.Load() == 1 }))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(1), sessions.Load(), "cancel must not trigger a reconnect")
}

func TestStateCallback(t *testing.T) {
	url := wsServer(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	cfg := fastConfig()
	cfg.StaleTimeout = 5 * time.Second
	states := make(chan bool, 4)
	conn := NewConn("market", url, cfg, nil, func(up bool) { states <- up }, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go conn.Run(ctx)

	select {
	case up := <-states:
		assert.True(t, up)
	case <-time.After(time.Second):
		t.Fatal("no connected callback")
	}

	cancel()
	select {
	case up := <-states:
		assert.False(t, up)
	case <-time.After(time.Second):
		t.Fatal("no disconnected callback")
	}
}

func TestBackoffDoubling(t *testing.T) {
	base, max := 2*time.Second, 60*time.Second
	assert.Equal(t, 2*time.Second, backoff(base, max, 0))
	assert.Equal(t, 4*time.Second, backoff(base, max, 1))
	assert.Equal(t, 32*time.Second, backoff(base, max, 4))
	assert.Equal(t, 60*time.Second, backoff(base, max, 5))
	assert.Equal(t, 60*time.Second, backoff(base, max, 20))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(d time.Duration, cond func() bool) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errors.New("condition not met in time")
}
