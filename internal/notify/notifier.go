// Package notify sends operator alerts for position events and process
// incidents to chat channels (Discord, Telegram). Alerts can be filtered by
// event name.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Level colours an alert in channels that support it.
type Level int

const (
	LevelInfo Level = iota
	LevelGood
	LevelBad
)

// Message is one alert.
type Message struct {
	Title string
	Body  string
	Level Level
}

// Sender delivers a message to one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans alerts out to every sender. When an event allow-list is
// configured, Notify drops events outside it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Allowed reports whether event passes the filter.
func (n *Notifier) Allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends msg if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event string, msg Message) error {
	if !n.Allowed(event) {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, msg)
}

// HandlePositionEvent formats a position event and sends it. It satisfies
// lifecycle.EventHandler.
func (n *Notifier) HandlePositionEvent(ctx context.Context, ev domain.PositionEvent) error {
	return n.Notify(ctx, string(ev.Type), FormatPositionEvent(ev))
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// FormatPositionEvent renders a position event as an alert.
func FormatPositionEvent(ev domain.PositionEvent) Message {
	p := ev.Position
	side := strings.ToUpper(string(p.Direction))
	switch ev.Type {
	case domain.PositionOpened:
		return Message{
			Title: fmt.Sprintf("Opened %s %s", side, p.Instrument),
			Body: fmt.Sprintf("setup %s · entry %s · stop %s · target %s · size %g (tier %d) · confidence %.0f%%",
				p.Setup, price(p.EntryPrice), price(p.Stop), price(p.Target), p.Size, p.SizeTier, p.Confidence*100),
			Level: LevelInfo,
		}
	case domain.PositionClosed:
		lvl := LevelGood
		if p.RealizedPnL.IsNegative() {
			lvl = LevelBad
		}
		held := time.Duration(0)
		if p.ExitTime != nil {
			held = p.ExitTime.Sub(p.EntryTime).Round(time.Second)
		}
		return Message{
			Title: fmt.Sprintf("Closed %s %s (%s)", side, p.Instrument, p.CloseReason),
			Body: fmt.Sprintf("entry %s · exit %s · pnl %s · held %s",
				price(p.EntryPrice), price(p.ExitPrice), p.RealizedPnL.StringFixed(2), held),
			Level: lvl,
		}
	}
	return Message{Title: string(ev.Type), Body: p.ID}
}

func price(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.5f", v), "0"), ".")
}
