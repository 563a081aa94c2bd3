// Package hub implements the process-wide market data hub: the latest tick, a
// bounded rolling window of candles per (instrument, source, timeframe), and
// the latest order-flow snapshot per instrument.
//
// Every instrument has its own record with its own lock, so pushes for
// unrelated instruments never serialize on each other. Readers receive
// copies together with a staleness flag computed against per-kind TTLs.
//
// A process obtains the hub only through a Registry, which builds exactly one
// instance and hands out thin handles. Mirror extends the same instance
// across processes over the Redis signal bus.
package hub

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// Config sizes the rolling windows and staleness TTLs.
type Config struct {
	CandleCapacity int
	TickCapacity   int
	BaseTimeframe  time.Duration
	TickTTL        time.Duration
	OrderFlowTTL   time.Duration
	// CandleTTLFactor multiplies the timeframe to get the candle TTL.
	CandleTTLFactor float64
}

// DefaultConfig returns the stock window sizes and TTLs.
func DefaultConfig() Config {
	return Config{
		CandleCapacity:  200,
		TickCapacity:    500,
		BaseTimeframe:   time.Minute,
		TickTTL:         2 * time.Second,
		OrderFlowTTL:    5 * time.Second,
		CandleTTLFactor: 2,
	}
}

// Validate rejects configurations the hub cannot run with.
func (c Config) Validate() error {
	switch {
	case c.CandleCapacity <= 0:
		return fmt.Errorf("hub: candle capacity %d: %w", c.CandleCapacity, domain.ErrInvalidCapacity)
	case c.TickCapacity <= 0:
		return fmt.Errorf("hub: tick capacity %d: %w", c.TickCapacity, domain.ErrInvalidCapacity)
	case c.BaseTimeframe <= 0:
		return fmt.Errorf("hub: base timeframe must be positive")
	case c.TickTTL <= 0 || c.OrderFlowTTL <= 0 || c.CandleTTLFactor <= 0:
		return fmt.Errorf("hub: staleness TTLs must be positive")
	}
	return nil
}

type seriesKey struct {
	source    string
	timeframe time.Duration
}

type record struct {
	mu      sync.RWMutex
	tick    domain.Tick
	hasTick bool
	ticks   *window[domain.Tick]
	candles map[seriesKey]*window[domain.Candle]
	flow    domain.OrderFlowSnapshot
	hasFlow bool
}

// Hub is the shared market state. Obtain it through a Registry.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]*record

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

func newHub(cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "hub")),
		now:       time.Now,
		records:   make(map[string]*record),
		listeners: make(map[int]Listener),
	}
}

// SetClock overrides the wall clock used for staleness. Intended for tests.
func (h *Hub) SetClock(now func() time.Time) { h.now = now }

// Config returns the hub's configuration.
func (h *Hub) Config() Config { return h.cfg }

func (h *Hub) record(instrument string) *record {
	h.mu.RLock()
	r, ok := h.records[instrument]
	h.mu.RUnlock()
	if ok {
		return r
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok = h.records[instrument]; ok {
		return r
	}
	r = &record{
		ticks:   newWindow(h.cfg.TickCapacity, func(t domain.Tick) time.Time { return t.Time }),
		candles: make(map[seriesKey]*window[domain.Candle]),
	}
	h.records[instrument] = r
	metrics.HubInstruments.Set(float64(len(h.records)))
	return r
}

func (h *Hub) lookup(instrument string) (*record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.records[instrument]
	return r, ok
}

// Instruments returns every instrument with a record, sorted.
func (h *Hub) Instruments() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.records))
	for k := range h.records {
		out = append(out, k)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// PushTick replaces the latest tick unless t is older than what is stored.
func (h *Hub) PushTick(t domain.Tick) bool {
	return h.applyTick(t, "")
}

func (h *Hub) applyTick(t domain.Tick, origin string) bool {
	if err := t.Validate(); err != nil {
		metrics.HubPushes.WithLabelValues("tick", "invalid").Inc()
		h.logger.Debug("hub: invalid tick", slog.String("error", err.Error()))
		return false
	}
	r := h.record(t.Instrument)
	r.mu.Lock()
	if r.hasTick && t.Time.Before(r.tick.Time) {
		r.mu.Unlock()
		metrics.HubPushes.WithLabelValues("tick", "out_of_order").Inc()
		return false
	}
	r.tick = t
	r.hasTick = true
	r.ticks.upsert(t)
	r.mu.Unlock()

	metrics.HubPushes.WithLabelValues("tick", "accepted").Inc()
	h.notify(Update{Kind: KindTick, Origin: origin, Tick: &t})
	return true
}

// PushCandle stores c keyed by bucket start, overwriting a duplicate.
func (h *Hub) PushCandle(c domain.Candle) bool {
	return h.applyCandle(c, "")
}

func (h *Hub) applyCandle(c domain.Candle, origin string) bool {
	if err := c.Validate(); err != nil {
		metrics.HubPushes.WithLabelValues("candle", "invalid").Inc()
		h.logger.Debug("hub: invalid candle", slog.String("error", err.Error()))
		return false
	}
	r := h.record(c.Instrument)
	k := seriesKey{source: c.Source, timeframe: c.Timeframe}
	r.mu.Lock()
	w, ok := r.candles[k]
	if !ok {
		w = newWindow(h.cfg.CandleCapacity, func(c domain.Candle) time.Time { return c.Start })
		r.candles[k] = w
	}
	kept := w.upsert(c)
	r.mu.Unlock()

	if !kept {
		metrics.HubPushes.WithLabelValues("candle", "evicted").Inc()
		return false
	}
	metrics.HubPushes.WithLabelValues("candle", "accepted").Inc()
	h.notify(Update{Kind: KindCandle, Origin: origin, Candle: &c})
	return true
}

// PushOrderFlow replaces the latest snapshot unless s is older.
func (h *Hub) PushOrderFlow(s domain.OrderFlowSnapshot) bool {
	return h.applyFlow(s, "")
}

func (h *Hub) applyFlow(s domain.OrderFlowSnapshot, origin string) bool {
	if s.Instrument == "" || s.WindowEnd.IsZero() {
		metrics.HubPushes.WithLabelValues("orderflow", "invalid").Inc()
		return false
	}
	r := h.record(s.Instrument)
	r.mu.Lock()
	if r.hasFlow && s.WindowEnd.Before(r.flow.WindowEnd) {
		r.mu.Unlock()
		metrics.HubPushes.WithLabelValues("orderflow", "out_of_order").Inc()
		return false
	}
	r.flow = s
	r.hasFlow = true
	r.mu.Unlock()

	metrics.HubPushes.WithLabelValues("orderflow", "accepted").Inc()
	h.notify(Update{Kind: KindOrderFlow, Origin: origin, Flow: &s})
	return true
}

// LatestTick returns the newest tick for instrument.
func (h *Hub) LatestTick(instrument string) (TickView, bool) {
	r, ok := h.lookup(instrument)
	if !ok {
		return TickView{}, false
	}
	r.mu.RLock()
	t, has := r.tick, r.hasTick
	r.mu.RUnlock()
	if !has {
		return TickView{}, false
	}
	age := h.now().Sub(t.Time)
	v := TickView{Tick: t, Age: age, Stale: age > h.cfg.TickTTL}
	if v.Stale {
		metrics.HubStaleReads.WithLabelValues("tick").Inc()
	}
	return v, true
}

// RecentTicks returns up to limit of the newest ticks, oldest first.
func (h *Hub) RecentTicks(instrument string, limit int) []domain.Tick {
	r, ok := h.lookup(instrument)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ticks.last(limit)
}

// LatestCandles returns up to limit of the newest base-timeframe candles for
// instrument, oldest first. An empty source applies the source-priority
// merge across every source the hub holds.
func (h *Hub) LatestCandles(instrument, source string, limit int) CandleView {
	return h.Candles(instrument, source, h.cfg.BaseTimeframe, limit)
}

// Candles is LatestCandles for an explicit timeframe.
func (h *Hub) Candles(instrument, source string, timeframe time.Duration, limit int) CandleView {
	if source == "" {
		return h.MergedCandles(instrument, timeframe, limit)
	}
	view := CandleView{Instrument: instrument, Timeframe: timeframe, Source: source}
	r, ok := h.lookup(instrument)
	if !ok {
		return view
	}
	r.mu.RLock()
	w, ok := r.candles[seriesKey{source: source, timeframe: timeframe}]
	if ok {
		view.Candles = w.last(limit)
	}
	r.mu.RUnlock()
	h.label(&view)
	return view
}

// MergedCandles applies the source-priority merge to every source that has
// candles for (instrument, timeframe).
func (h *Hub) MergedCandles(instrument string, timeframe time.Duration, limit int) CandleView {
	view := CandleView{Instrument: instrument, Timeframe: timeframe}
	r, ok := h.lookup(instrument)
	if !ok {
		return view
	}
	var realBars, proxyBars []domain.Candle
	var realSrc, proxySrc string
	r.mu.RLock()
	for k, w := range r.candles {
		if k.timeframe != timeframe || w.len() == 0 {
			continue
		}
		bars := w.last(limit)
		newest, _ := w.newest()
		if newest.VolumeKind == domain.VolumeReal {
			if len(bars) > len(realBars) || (len(bars) == len(realBars) && k.source < realSrc) {
				realBars, realSrc = bars, k.source
			}
		} else if len(bars) > len(proxyBars) || (len(bars) == len(proxyBars) && k.source < proxySrc) {
			proxyBars, proxySrc = bars, k.source
		}
	}
	r.mu.RUnlock()

	m := Merge(Series{Source: realSrc, Candles: realBars}, Series{Source: proxySrc, Candles: proxyBars}, limit)
	view.Candles = m.Candles
	view.Source = m.Source
	view.VolumeKind = m.VolumeKind
	h.label(&view)
	return view
}

func (h *Hub) label(v *CandleView) {
	if len(v.Candles) == 0 {
		return
	}
	last := v.Candles[len(v.Candles)-1]
	if v.VolumeKind == "" {
		v.VolumeKind = last.VolumeKind
	}
	ttl := time.Duration(float64(last.Timeframe) * h.cfg.CandleTTLFactor)
	v.Stale = h.now().Sub(last.End()) > ttl
	if v.Stale {
		metrics.HubStaleReads.WithLabelValues("candle").Inc()
	}
}

// LatestOrderFlow returns the newest order-flow snapshot for instrument.
func (h *Hub) LatestOrderFlow(instrument string) (FlowView, bool) {
	r, ok := h.lookup(instrument)
	if !ok {
		return FlowView{}, false
	}
	r.mu.RLock()
	s, has := r.flow, r.hasFlow
	r.mu.RUnlock()
	if !has {
		return FlowView{}, false
	}
	age := h.now().Sub(s.WindowEnd)
	v := FlowView{Snapshot: s, Age: age, Stale: age > h.cfg.OrderFlowTTL}
	if v.Stale {
		metrics.HubStaleReads.WithLabelValues("orderflow").Inc()
	}
	return v, true
}
