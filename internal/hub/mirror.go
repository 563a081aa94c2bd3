package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

const (
	// MirrorChannel carries every local push to peer processes.
	MirrorChannel = "hub:updates"
	// MirrorCandleStream keeps recent candles so late joiners can catch up.
	MirrorCandleStream = "hub:candles"
)

type envelope struct {
	Origin string `json:"origin"`
	Update Update `json:"update"`
}

// Mirror joins this process's hub to the hubs of peer processes through the
// signal bus, so every process observes one logical hub. Local pushes are
// published; peer pushes are applied locally under the peer's origin and
// never re-published.
type Mirror struct {
	hub    *Hub
	bus    domain.SignalBus
	origin string
	async  *Async
	logger *slog.Logger

	catchUp int
}

// NewMirror creates a Mirror for h. catchUp bounds how many stored candle
// messages are scanned on start; the hub's windows keep only the newest.
func NewMirror(h *Hub, bus domain.SignalBus, catchUp int, logger *slog.Logger) *Mirror {
	m := &Mirror{
		hub:     h,
		bus:     bus,
		origin:  uuid.NewString(),
		logger:  logger.With(slog.String("component", "hub_mirror")),
		catchUp: catchUp,
	}
	m.async = NewAsync(4096, m.publish)
	return m
}

// Origin returns this process's mirror id.
func (m *Mirror) Origin() string { return m.origin }

// Run replays recent candles, then relays updates in both directions until
// ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.replay(ctx); err != nil {
		m.logger.WarnContext(ctx, "hub_mirror: catch-up failed", slog.String("error", err.Error()))
	}

	sub, err := m.bus.Subscribe(ctx, MirrorChannel)
	if err != nil {
		return fmt.Errorf("hub_mirror: subscribe: %w", err)
	}
	cancel := m.hub.Subscribe(func(u Update) {
		if u.Origin == "" {
			m.async.Notify(u)
		}
	})
	defer cancel()

	m.logger.InfoContext(ctx, "hub_mirror: relaying", slog.String("origin", m.origin))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.async.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-sub:
				if !ok {
					return ctx.Err()
				}
				m.receive(payload)
			}
		}
	})
	return g.Wait()
}

func (m *Mirror) publish(ctx context.Context, u Update) {
	payload, err := json.Marshal(envelope{Origin: m.origin, Update: u})
	if err != nil {
		m.logger.ErrorContext(ctx, "hub_mirror: marshal", slog.String("error", err.Error()))
		return
	}
	if err := m.bus.Publish(ctx, MirrorChannel, payload); err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.WarnContext(ctx, "hub_mirror: publish failed", slog.String("error", err.Error()))
		}
		return
	}
	if u.Kind == KindCandle {
		if err := m.bus.StreamAppend(ctx, MirrorCandleStream, payload); err != nil {
			m.logger.WarnContext(ctx, "hub_mirror: stream append failed", slog.String("error", err.Error()))
		}
	}
	metrics.MirrorMessages.WithLabelValues(string(u.Kind), "out").Inc()
}

func (m *Mirror) receive(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		m.logger.Warn("hub_mirror: bad payload", slog.String("error", err.Error()))
		return
	}
	if env.Origin == m.origin || env.Origin == "" {
		return
	}
	if m.hub.apply(env.Update, env.Origin) {
		metrics.MirrorMessages.WithLabelValues(string(env.Update.Kind), "in").Inc()
	}
}

func (m *Mirror) replay(ctx context.Context) error {
	const page = 500
	lastID, seen := "0", 0
	for seen < m.catchUp {
		msgs, err := m.bus.StreamRead(ctx, MirrorCandleStream, lastID, page)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			m.receive(msg.Payload)
		}
		seen += len(msgs)
		lastID = msgs[len(msgs)-1].ID
	}
	if seen > 0 {
		m.logger.InfoContext(ctx, "hub_mirror: caught up", slog.Int("candles", seen))
	}
	return nil
}

// apply routes a mirrored update into the matching slot.
func (h *Hub) apply(u Update, origin string) bool {
	switch {
	case u.Kind == KindTick && u.Tick != nil:
		return h.applyTick(*u.Tick, origin)
	case u.Kind == KindCandle && u.Candle != nil:
		return h.applyCandle(*u.Candle, origin)
	case u.Kind == KindOrderFlow && u.Flow != nil:
		return h.applyFlow(*u.Flow, origin)
	}
	return false
}
