package lifecycle

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// EventHandler consumes position events downstream of the manager, for
// example persistence, audit or notification.
type EventHandler interface {
	HandlePositionEvent(ctx context.Context, ev domain.PositionEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev domain.PositionEvent) error

// HandlePositionEvent calls f.
func (f EventHandlerFunc) HandlePositionEvent(ctx context.Context, ev domain.PositionEvent) error {
	return f(ctx, ev)
}

type namedHandler struct {
	name string
	h    EventHandler
}

// Dispatcher decouples slow event handlers from the manager. Enqueue never
// blocks; when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	ch       chan domain.PositionEvent
	handlers []namedHandler
	dropped  atomic.Int64
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with the given buffer size.
func NewDispatcher(buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		ch:     make(chan domain.PositionEvent, buffer),
		logger: logger.With(slog.String("component", "position_events")),
	}
}

// Handle registers h. Register every handler before Run.
func (d *Dispatcher) Handle(name string, h EventHandler) {
	d.handlers = append(d.handlers, namedHandler{name: name, h: h})
}

// Enqueue queues ev for delivery. Its signature matches Manager.Subscribe.
func (d *Dispatcher) Enqueue(ev domain.PositionEvent) {
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("position_events: buffer full, event dropped",
			slog.String("type", string(ev.Type)),
			slog.String("position_id", ev.Position.ID),
		)
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers events until ctx is cancelled, then drains what is buffered
// with a short grace period.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.ch:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			for {
				select {
				case ev := <-d.ch:
					d.deliver(drainCtx, ev)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev domain.PositionEvent) {
	for _, nh := range d.handlers {
		if err := nh.h.HandlePositionEvent(ctx, ev); err != nil {
			d.logger.ErrorContext(ctx, "position_events: handler failed",
				slog.String("handler", nh.name),
				slog.String("type", string(ev.Type)),
				slog.String("position_id", ev.Position.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
