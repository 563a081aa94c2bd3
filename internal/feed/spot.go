// Package feed connects upstream market data to the hub: a spot quote feed,
// a futures book/trade feed and an economic calendar poller.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/platform/wsconn"
)

// TickPusher accepts top-of-book quotes, normally the hub.
type TickPusher interface {
	PushTick(t domain.Tick) bool
}

// PriceObserver folds price updates into candles.
type PriceObserver interface {
	OnPriceUpdate(instrument string, price float64, ts time.Time, volumeHint float64)
}

// spotQuote is the spot wire format:
//
//	{"type":"quote","symbol":"EURUSD","bid":1.10001,"ask":1.10006,"ts":1709906400123}
//
// ts is unix milliseconds. Other message types (heartbeats, acks) are
// ignored.
type spotQuote struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	TS     int64   `json:"ts"`
}

// spotSubscribe is sent on every (re)connect.
type spotSubscribe struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// SpotConfig configures the spot feed.
type SpotConfig struct {
	WS      wsconn.Config
	Source  string
	Symbols []string
}

// SpotFeed streams spot quotes into the hub and the spot candle aggregator.
// Candles are built from the quote mid with one proxy volume unit per quote.
type SpotFeed struct {
	cfg     SpotConfig
	ticks   TickPusher
	candles PriceObserver
	client  *wsconn.Client
	logger  *slog.Logger
	now     func() time.Time

	received atomic.Int64
	rejected atomic.Int64
}

// NewSpotFeed creates a SpotFeed. candles may be nil.
func NewSpotFeed(cfg SpotConfig, ticks TickPusher, candles PriceObserver, logger *slog.Logger) *SpotFeed {
	if cfg.Source == "" {
		cfg.Source = "spot"
	}
	if cfg.WS.Name == "" {
		cfg.WS.Name = "spot"
	}
	f := &SpotFeed{
		cfg:     cfg,
		ticks:   ticks,
		candles: candles,
		logger:  logger.With(slog.String("component", "spot_feed")),
		now:     time.Now,
	}
	f.client = wsconn.New(cfg.WS, f.subscribe, logger)
	return f
}

func (f *SpotFeed) subscribe(_ context.Context, c *wsconn.Client) error {
	return c.SendJSON(spotSubscribe{Action: "subscribe", Symbols: f.cfg.Symbols})
}

// Run streams until ctx is cancelled.
func (f *SpotFeed) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "spot_feed: starting", slog.Any("symbols", f.cfg.Symbols))
	return f.client.Run(ctx, f.Handle)
}

// Handle decodes one frame. Malformed or invalid quotes are counted and
// dropped.
func (f *SpotFeed) Handle(ctx context.Context, msg []byte) {
	var q spotQuote
	if err := json.Unmarshal(msg, &q); err != nil {
		f.reject(ctx, "decode", err)
		return
	}
	if q.Type != "quote" {
		return
	}
	f.received.Add(1)

	t := domain.Tick{
		Instrument: strings.ToUpper(strings.TrimSpace(q.Symbol)),
		Time:       msTime(q.TS, f.now),
		Bid:        q.Bid,
		Ask:        q.Ask,
		Source:     f.cfg.Source,
	}
	if err := t.Validate(); err != nil || t.Bid <= 0 {
		f.reject(ctx, "validate", err)
		return
	}
	if !f.ticks.PushTick(t) {
		return
	}
	if f.candles != nil {
		f.candles.OnPriceUpdate(t.Instrument, t.Mid(), t.Time, 0)
	}
}

func (f *SpotFeed) reject(ctx context.Context, stage string, err error) {
	f.rejected.Add(1)
	attrs := []any{slog.String("stage", stage)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	f.logger.DebugContext(ctx, "spot_feed: message dropped", attrs...)
}

// Stats returns the accepted-frame and rejected-frame counters.
func (f *SpotFeed) Stats() (received, rejected int64) {
	return f.received.Load(), f.rejected.Load()
}

// msTime converts unix milliseconds, falling back to now when zero.
func msTime(ms int64, now func() time.Time) time.Time {
	if ms <= 0 {
		return now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
