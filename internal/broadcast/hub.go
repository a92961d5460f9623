// Package broadcast exposes the bot's event stream to observers over
// WebSocket. Delivery is best effort and at most once: clients that fall
// behind have frames dropped, and nothing is replayed on reconnect.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming control messages from observers.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing frames per client.
	sendBufferSize = 256

	// eventsChannel is the signal-bus channel carrying engine events.
	eventsChannel = "events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Observers are trusted infrastructure; restrict upstream.
		return true
	},
}

// client is a single connected observer.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Config tunes the observer server.
type Config struct {
	Port              int
	HeartbeatInterval time.Duration
}

// Hub accepts observer WebSocket connections and fans the signal-bus event
// stream out to all of them.
type Hub struct {
	cfg    Config
	bus    domain.SignalBus
	board  *domain.StatusBoard
	logger *slog.Logger

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

// NewHub creates an observer hub bridging the signal bus to WebSocket
// clients. board supplies the status snapshot attached to heartbeats.
func NewHub(cfg Config, bus domain.SignalBus, board *domain.StatusBoard, logger *slog.Logger) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	return &Hub{
		cfg:        cfg,
		bus:        bus,
		board:      board,
		logger:     logger.With(slog.String("component", "broadcast")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run serves the observer endpoint until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/status", h.handleStatus)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", h.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("broadcast: serve: %w", err)
		}
		close(serveErr)
	}()

	go h.subscribeEvents(ctx)

	h.logger.Info("observer server started", slog.Int("port", h.cfg.Port))

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			srv.Shutdown(shutdownCtx)
			cancel()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return ctx.Err()

		case err := <-serveErr:
			if err != nil {
				return err
			}

		case c := <-h.register:
			h.clients[c] = true
			h.logger.Info("observer connected", slog.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.logger.Info("observer disconnected", slog.Int("total", len(h.clients)))

		case frame := <-h.broadcast:
			h.fanOut(frame)

		case <-heartbeat.C:
			if frame, err := h.heartbeatFrame(); err == nil {
				h.fanOut(frame)
			}
		}
	}
}

// fanOut delivers one frame to every client, dropping it for clients whose
// send buffer is full.
func (h *Hub) fanOut(frame []byte) {
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping frame for slow observer")
		}
	}
}

func (h *Hub) heartbeatFrame() ([]byte, error) {
	ev := domain.BotEvent{
		Type:      domain.EventHeartbeat,
		Timestamp: time.Now().UTC(),
	}
	if h.board != nil {
		ev.Data = h.board.Snapshot()
	}
	return json.Marshal(ev)
}

// subscribeEvents forwards signal-bus events to the broadcast loop.
func (h *Hub) subscribeEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, eventsChannel)
	if err != nil {
		h.logger.Error("event subscription failed", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("event subscription closed")
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleWS upgrades the request and registers the observer.
// GET /ws
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- c
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

// handleStatus returns the current status snapshot.
// GET /status
func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var snap domain.BotStatus
	if h.board != nil {
		snap = h.board.Snapshot()
	}
	json.NewEncoder(w).Encode(snap)
}

// sendInitialStatus pushes one status event so observers can mark the
// connection healthy before any market events flow.
func (c *client) sendInitialStatus() {
	ev := domain.BotEvent{
		Type:      domain.EventBotStatusChanged,
		Timestamp: time.Now().UTC(),
	}
	if c.hub.board != nil {
		ev.Data = c.hub.board.Snapshot()
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// readPump consumes control frames until the observer disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump writes queued frames and keepalive pings to the observer.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
