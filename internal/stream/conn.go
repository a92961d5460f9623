// Package stream maintains the bot's push connections to the venue: one
// market-data feed and one authenticated user feed, each supervised so a
// dropped connection reconnects with backoff and replays its current
// subscription. The spoken protocol is JSON over websocket with a
// text-frame keep-alive.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// Config tunes one supervised connection.
type Config struct {
	// KeepAlive is the interval between "PING" text frames.
	KeepAlive time.Duration
	// StaleTimeout closes the connection when no frame arrives for this
	// long; a stale close is treated as a connection failure.
	StaleTimeout time.Duration
	// ReconnectBase and ReconnectMax bound the exponential backoff
	// between reconnect attempts.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	// MaxReconnectAttempts is the consecutive-failure ceiling; reaching
	// it surfaces a terminal connectivity error. The counter resets on
	// every successful open.
	MaxReconnectAttempts int
}

// DefaultConfig returns the standard stream tuning.
func DefaultConfig() Config {
	return Config{
		KeepAlive:            10 * time.Second,
		StaleTimeout:         45 * time.Second,
		ReconnectBase:        2 * time.Second,
		ReconnectMax:         60 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// Conn is one supervised websocket connection. Run owns the lifecycle;
// Subscribe records the feed's current subscription payload, sent
// immediately when connected and replayed after every reconnect.
type Conn struct {
	name   string
	url    string
	cfg    Config
	logger *slog.Logger

	// onMessage receives every inbound frame. Called from the read
	// goroutine; must not block indefinitely.
	onMessage func([]byte)
	// onState reports connectivity transitions.
	onState func(connected bool)

	mu  sync.Mutex
	sub any
	ws  *websocket.Conn
}

// NewConn creates a supervised connection. onState may be nil.
func NewConn(name, url string, cfg Config, onMessage func([]byte), onState func(bool), logger *slog.Logger) *Conn {
	def := DefaultConfig()
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	return &Conn{
		name:      name,
		url:       url,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "stream"), slog.String("feed", name)),
		onMessage: onMessage,
		onState:   onState,
	}
}

// Subscribe records the feed's current subscription payload, replacing any
// previous one, and sends it right away when a connection is up. Callers
// therefore pass the complete current set on every call; a reconnect
// replays exactly one frame.
func (c *Conn) Subscribe(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sub = payload
	if c.ws != nil {
		return c.writeJSONLocked(payload)
	}
	return nil
}

// Run dials and supervises the connection until ctx is cancelled or the
// reconnect ceiling is hit. The terminal error is returned exactly once;
// callers decide whether that ends the process.
func (c *Conn) Run(ctx context.Context) error {
	failures := 0
	for {
		ws, err := c.dial(ctx)
		if err == nil {
			failures = 0
			err = c.session(ctx, ws)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if failures >= c.cfg.MaxReconnectAttempts {
			c.logger.Error("reconnect attempts exhausted",
				slog.Int("attempts", failures),
				slog.String("error", err.Error()))
			return fmt.Errorf("stream: %s: %w", c.name, domain.ErrStreamTerminal)
		}

		delay := backoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, failures-1)
		c.logger.Warn("connection lost, reconnecting",
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: %s: dial: %w", c.name, err)
	}
	return ws, nil
}

// session runs one live connection: replays the current subscription, pumps inbound
// frames to the handler, and sends keep-alives. It returns the connection
// error that ended the session, or ctx.Err() after an intentional close.
func (c *Conn) session(ctx context.Context, ws *websocket.Conn) error {
	c.mu.Lock()
	c.ws = ws
	sub := c.sub
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
		if c.onState != nil {
			c.onState(false)
		}
	}()

	if c.onState != nil {
		c.onState(true)
	}
	c.logger.Info("connected")

	if sub != nil {
		if err := c.writeJSON(sub); err != nil {
			return fmt.Errorf("stream: %s: replay subscription: %w", c.name, err)
		}
	}

	errCh := make(chan error, 1)
	go c.readLoop(ws, errCh)

	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Intentional close: tell the peer and suppress reconnect by
			// letting Run observe ctx.Err().
			c.mu.Lock()
			ws.SetWriteDeadline(time.Now().Add(time.Second))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			c.mu.Unlock()
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := c.writeText("PING"); err != nil {
				return fmt.Errorf("stream: %s: keep-alive: %w", c.name, err)
			}
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, errCh chan<- error) {
	for {
		ws.SetReadDeadline(time.Now().Add(c.cfg.StaleTimeout))
		_, msg, err := ws.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				err = fmt.Errorf("stream: %s: no frame in %s: %w",
					c.name, c.cfg.StaleTimeout, domain.ErrStreamStale)
			}
			errCh <- err
			return
		}
		if string(msg) == "PONG" {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeJSONLocked(v)
}

func (c *Conn) writeJSONLocked(v any) error {
	if c.ws == nil {
		return fmt.Errorf("stream: %s: not connected", c.name)
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *Conn) writeText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("stream: %s: not connected", c.name)
	}
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

// backoff doubles from base per consecutive failure, capped at max.
func backoff(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
