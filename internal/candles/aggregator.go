// Package candles folds price updates into wall-clock aligned OHLC bars.
package candles

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// Sink receives finalized candles. Implementations must not block.
type Sink interface {
	PushCandle(c domain.Candle) bool
}

// MultiSink fans a candle out to several sinks in order.
type MultiSink []Sink

// PushCandle forwards c to every sink and reports whether the first accepted it.
func (m MultiSink) PushCandle(c domain.Candle) bool {
	accepted := false
	for i, s := range m {
		ok := s.PushCandle(c)
		if i == 0 {
			accepted = ok
		}
	}
	return accepted
}

// Config describes one price source feeding the aggregator.
type Config struct {
	Source     string
	VolumeKind domain.VolumeKind
	Timeframes []time.Duration
	// MaxGapFill caps the carried-forward bars emitted for one gap. Older
	// empty buckets beyond the cap are skipped.
	MaxGapFill int
}

type bucketKey struct {
	instrument string
	timeframe  time.Duration
}

type bucket struct {
	cur     domain.Candle
	open    bool
	last    domain.Candle
	hasLast bool
}

// Aggregator keeps one in-progress candle per (instrument, timeframe) for a
// single source.
type Aggregator struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// New creates an Aggregator for the source described by cfg.
func New(cfg Config, sink Sink, logger *slog.Logger) *Aggregator {
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []time.Duration{time.Minute}
	}
	if cfg.VolumeKind == "" {
		cfg.VolumeKind = domain.VolumeProxy
	}
	if cfg.MaxGapFill <= 0 {
		cfg.MaxGapFill = 200
	}
	return &Aggregator{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.With(slog.String("component", "tick_aggregator"), slog.String("source", cfg.Source)),
		buckets: make(map[bucketKey]*bucket),
	}
}

// Source returns the source tag stamped on every candle.
func (a *Aggregator) Source() string { return a.cfg.Source }

// OnPriceUpdate folds one price observation into every configured timeframe.
// volumeHint is the traded size when known; proxy sources count one unit per
// update when it is not positive.
func (a *Aggregator) OnPriceUpdate(instrument string, price float64, ts time.Time, volumeHint float64) {
	if instrument == "" || price <= 0 || ts.IsZero() {
		return
	}
	vol := volumeHint
	if vol <= 0 {
		if a.cfg.VolumeKind == domain.VolumeProxy {
			vol = 1
		} else {
			vol = 0
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tf := range a.cfg.Timeframes {
		a.update(instrument, tf, price, ts.UTC(), vol)
	}
}

func (a *Aggregator) update(instrument string, tf time.Duration, price float64, ts time.Time, vol float64) {
	k := bucketKey{instrument: instrument, timeframe: tf}
	b, ok := a.buckets[k]
	if !ok {
		b = &bucket{}
		a.buckets[k] = b
	}
	start := ts.Truncate(tf)

	switch {
	case b.open && start.Equal(b.cur.Start):
		b.cur.High = max(b.cur.High, price)
		b.cur.Low = min(b.cur.Low, price)
		b.cur.Close = price
		b.cur.Volume += vol
		b.cur.Ticks++
		return
	case b.open && start.Before(b.cur.Start), !b.open && b.hasLast && start.Before(b.last.End()):
		metrics.LateUpdates.WithLabelValues(a.cfg.Source).Inc()
		a.logger.Debug("tick_aggregator: late update dropped",
			slog.String("instrument", instrument),
			slog.Time("ts", ts),
		)
		return
	case b.open:
		a.emit(b, b.cur)
		b.open = false
	}

	a.fillGap(b, start)
	b.cur = domain.Candle{
		Instrument: instrument,
		Timeframe:  tf,
		Start:      start,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     vol,
		Source:     a.cfg.Source,
		VolumeKind: a.cfg.VolumeKind,
		Ticks:      1,
	}
	b.open = true
}

// fillGap emits carried-forward bars for every empty bucket between the last
// emitted candle and upTo.
func (a *Aggregator) fillGap(b *bucket, upTo time.Time) {
	if !b.hasLast {
		return
	}
	tf := b.last.Timeframe
	missing := int(upTo.Sub(b.last.End()) / tf)
	if missing <= 0 {
		return
	}
	from := b.last.End()
	if missing > a.cfg.MaxGapFill {
		from = upTo.Add(-time.Duration(a.cfg.MaxGapFill) * tf)
	}
	for s := from; s.Before(upTo); s = s.Add(tf) {
		a.emit(b, b.last.CarryForward(s))
	}
}

func (a *Aggregator) emit(b *bucket, c domain.Candle) {
	b.last = c
	b.hasLast = true
	metrics.CandlesFinalized.WithLabelValues(a.cfg.Source, strconv.FormatBool(c.Filled)).Inc()
	if a.sink != nil {
		a.sink.PushCandle(c)
	}
}

// Flush finalizes every in-progress bucket whose end is at or before now and
// carries quiet instruments forward through fully elapsed buckets.
func (a *Aggregator) Flush(now time.Time) int {
	now = now.UTC()
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, b := range a.buckets {
		if b.open && !b.cur.End().After(now) {
			a.emit(b, b.cur)
			b.open = false
			n++
		}
		if !b.open && b.hasLast {
			through := now.Truncate(b.last.Timeframe)
			before := b.last.Start
			a.fillGap(b, through)
			if b.last.Start.After(before) {
				n++
			}
		}
	}
	return n
}

// Run flushes elapsed buckets every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.Flush(now)
		}
	}
}
