// Package notify pushes operator alerts to external channels (Telegram,
// Discord). The notifier watches the engine's event stream and forwards
// only the event types the operator opted into; connectivity failures are
// pushed directly by the app.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// eventsChannel is the signal-bus channel carrying engine events.
const eventsChannel = "events"

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier subscribes to the engine event stream and forwards selected
// event types to every configured sender.
type Notifier struct {
	senders []Sender
	allowed map[domain.EventType]bool
	bus     domain.SignalBus
	logger  *slog.Logger
}

// New creates a Notifier forwarding the given event types. An empty events
// list forwards everything except heartbeats.
func New(senders []Sender, events []string, bus domain.SignalBus, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		bus:     bus,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Run watches the event stream until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if len(n.senders) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	msgCh, err := n.bus.Subscribe(ctx, eventsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("notify: event subscription closed")
			}
			var ev domain.BotEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				n.logger.Warn("malformed event", slog.String("error", err.Error()))
				continue
			}
			if !n.wants(ev.Type) {
				continue
			}
			n.dispatch(ctx, formatTitle(ev.Type), formatBody(ev))
		}
	}
}

// Direct delivers a message to all senders, bypassing the event filter.
// Used for operational alerts that never cross the bus, like stream loss.
func (n *Notifier) Direct(ctx context.Context, title, message string) {
	n.dispatch(ctx, title, message)
}

func (n *Notifier) wants(t domain.EventType) bool {
	if len(n.allowed) > 0 {
		return n.allowed[t]
	}
	return t != domain.EventHeartbeat
}

// dispatch delivers to every sender; one failing sender does not block the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
		}
	}
}

// formatTitle maps an event type to a human headline.
func formatTitle(t domain.EventType) string {
	switch t {
	case domain.EventRiskAlert:
		return "Risk alert"
	case domain.EventPositionOpened:
		return "Position opened"
	case domain.EventPositionClosed:
		return "Position closed"
	case domain.EventTradeExecuted:
		return "Trade executed"
	case domain.EventBotStatusChanged:
		return "Bot status changed"
	default:
		return strings.ReplaceAll(string(t), "_", " ")
	}
}

// formatBody renders the event payload compactly for a chat message.
func formatBody(ev domain.BotEvent) string {
	var b strings.Builder
	if !ev.Timestamp.IsZero() {
		b.WriteString(ev.Timestamp.UTC().Format(time.RFC3339))
	}
	if ev.Data != nil {
		if data, err := json.Marshal(ev.Data); err == nil {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.Write(data)
		}
	}
	return b.String()
}
