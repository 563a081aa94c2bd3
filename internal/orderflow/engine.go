// Package orderflow turns level-2 book deltas and trade prints into rolling
// per-instrument microstructure snapshots: order-flow imbalance, trailing
// volume delta, microprice, session VWAP and a liquidity-sweep flag.
//
// Book-derived values (imbalance, microprice) are recomputed from the live
// book on every snapshot. Trade-derived values (volume delta, VWAP) are kept
// as incremental sums over their windows.
package orderflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/candles"
	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// Publisher receives emitted snapshots, normally the market data hub.
type Publisher interface {
	PushOrderFlow(s domain.OrderFlowSnapshot) bool
}

// Config holds engine tuning.
type Config struct {
	Source           string
	Depth            int
	ImbalanceLevels  int
	DeltaWindow      time.Duration
	SnapshotInterval time.Duration
	BarTimeframe     time.Duration
	// SessionStart is the UTC offset from midnight at which the VWAP anchor
	// resets.
	SessionStart time.Duration
	Sweep        SweepConfig
}

func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = "futures"
	}
	if c.Depth <= 0 {
		c.Depth = 10
	}
	if c.ImbalanceLevels <= 0 {
		c.ImbalanceLevels = 5
	}
	if c.ImbalanceLevels > c.Depth {
		c.ImbalanceLevels = c.Depth
	}
	if c.DeltaWindow <= 0 {
		c.DeltaWindow = 60 * time.Second
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = time.Minute
	}
	if c.BarTimeframe <= 0 {
		c.BarTimeframe = time.Minute
	}
	if c.Sweep.Lookback <= 0 {
		c.Sweep.Lookback = 10
	}
	if c.Sweep.MinTicks <= 0 {
		c.Sweep.MinTicks = 2
	}
	if c.Sweep.TickSize <= 0 {
		c.Sweep.TickSize = 0.25
	}
}

type instrumentState struct {
	mu       sync.Mutex
	book     *Book
	delta    slidingSum
	vwap     sessionVWAP
	sweep    sweepDetector
	lastSeq  uint64
	degraded bool
	trades   int
}

// Engine maintains order-flow state for every instrument it has seen.
type Engine struct {
	cfg    Config
	pub    Publisher
	bars   *candles.Aggregator
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	states map[string]*instrumentState
}

// New creates an Engine. Bars synthesized from trade prints go to barSink
// (tagged real volume) as well as to the engine's own sweep buffer.
func New(cfg Config, pub Publisher, barSink candles.Sink, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:    cfg,
		pub:    pub,
		logger: logger.With(slog.String("component", "orderflow")),
		now:    time.Now,
		states: make(map[string]*instrumentState),
	}
	sinks := candles.MultiSink{barFeed{e}}
	if barSink != nil {
		sinks = candles.MultiSink{barSink, barFeed{e}}
	}
	e.bars = candles.New(candles.Config{
		Source:     cfg.Source,
		VolumeKind: domain.VolumeReal,
		Timeframes: []time.Duration{cfg.BarTimeframe},
	}, sinks, logger)
	return e
}

// SetClock overrides the wall clock. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) state(instrument string) *instrumentState {
	e.mu.RLock()
	st, ok := e.states[instrument]
	e.mu.RUnlock()
	if ok {
		return st
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok = e.states[instrument]; ok {
		return st
	}
	st = &instrumentState{
		book:  NewBook(e.cfg.Depth),
		delta: newSlidingSum(e.cfg.DeltaWindow),
		sweep: newSweepDetector(e.cfg.Sweep.Lookback),
	}
	e.states[instrument] = st
	return st
}

func (e *Engine) lookup(instrument string) (*instrumentState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[instrument]
	return st, ok
}

// Apply dispatches one resolved venue record. It is the sink handed to the
// symbol mapper.
func (e *Engine) Apply(instrument string, ev domain.VenueEvent) {
	if ev.Seq != 0 {
		e.OnSequence(instrument, ev.Seq)
	}
	switch {
	case ev.Snapshot != nil:
		e.applySnapshot(instrument, *ev.Snapshot, e.eventTime(ev))
	case ev.Book != nil:
		e.applyBook(instrument, *ev.Book, e.eventTime(ev))
	case ev.Trade != nil:
		tr := *ev.Trade
		if tr.Time.IsZero() {
			tr.Time = ev.Time
		}
		e.OnTrade(instrument, tr.Price, tr.Size, tr.Aggressor, tr.Time)
	}
}

// OnSequence checks the provider sequence number. Any gap marks the
// instrument degraded until the next full book snapshot.
func (e *Engine) OnSequence(instrument string, seq uint64) {
	st := e.state(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastSeq != 0 && seq != st.lastSeq+1 && seq > st.lastSeq {
		if !st.degraded {
			e.logger.Warn("orderflow: sequence gap, marking degraded",
				slog.String("instrument", instrument),
				slog.Uint64("expected", st.lastSeq+1),
				slog.Uint64("got", seq),
			)
		}
		st.degraded = true
		metrics.OrderFlowGaps.Inc()
	}
	if seq > st.lastSeq {
		st.lastSeq = seq
	}
}

func (e *Engine) eventTime(ev domain.VenueEvent) time.Time {
	if ev.Time.IsZero() {
		return e.now()
	}
	return ev.Time
}

// OnBookUpdate folds a rank-indexed level change into the top-N book.
func (e *Engine) OnBookUpdate(instrument string, side domain.Side, level int, price, size float64) {
	e.applyBook(instrument, domain.BookUpdate{Side: side, Level: level, Price: price, Size: size}, e.now())
}

func (e *Engine) applyBook(instrument string, u domain.BookUpdate, ts time.Time) {
	st := e.state(instrument)
	st.mu.Lock()
	st.book.Apply(u)
	e.observeMid(st, ts)
	st.mu.Unlock()
}

// OnBookSnapshot replaces the book and clears the degraded flag.
func (e *Engine) OnBookSnapshot(instrument string, snap domain.BookSnapshot) {
	e.applySnapshot(instrument, snap, e.now())
}

func (e *Engine) applySnapshot(instrument string, snap domain.BookSnapshot, ts time.Time) {
	st := e.state(instrument)
	st.mu.Lock()
	st.book.Replace(snap)
	if st.degraded {
		e.logger.Info("orderflow: full snapshot received, recovered", slog.String("instrument", instrument))
	}
	st.degraded = false
	e.observeMid(st, ts)
	st.mu.Unlock()
}

// observeMid feeds the proxy VWAP. Caller holds st.mu.
func (e *Engine) observeMid(st *instrumentState, ts time.Time) {
	bp, _, okb := st.book.Best(domain.SideBid)
	ap, _, oka := st.book.Best(domain.SideAsk)
	if !okb || !oka {
		return
	}
	st.vwap.roll(e.sessionAnchor(ts))
	st.vwap.observeMid(ts, (bp+ap)/2)
}

// OnTrade records a trade print for volume delta, VWAP and bar synthesis.
func (e *Engine) OnTrade(instrument string, price, size float64, aggressor domain.Aggressor, ts time.Time) {
	if price <= 0 || size <= 0 {
		return
	}
	if ts.IsZero() {
		ts = e.now()
	}
	st := e.state(instrument)
	st.mu.Lock()
	switch aggressor {
	case domain.AggressorBuy:
		st.delta.add(ts, size)
	case domain.AggressorSell:
		st.delta.add(ts, -size)
	}
	st.vwap.roll(e.sessionAnchor(ts))
	st.vwap.addTrade(price, size)
	st.trades++
	st.mu.Unlock()

	// Outside st.mu: the aggregator calls back into barFeed, which locks it.
	e.bars.OnPriceUpdate(instrument, price, ts, size)
}

func (e *Engine) sessionAnchor(t time.Time) time.Time {
	t = t.UTC()
	day := t.Truncate(24 * time.Hour)
	anchor := day.Add(e.cfg.SessionStart)
	if t.Before(anchor) {
		anchor = anchor.Add(-24 * time.Hour)
	}
	return anchor
}

// Snapshot computes the current OrderFlowSnapshot for instrument.
func (e *Engine) Snapshot(instrument string, now time.Time) (domain.OrderFlowSnapshot, error) {
	st, ok := e.lookup(instrument)
	if !ok {
		return domain.OrderFlowSnapshot{}, fmt.Errorf("orderflow: %s: %w", instrument, domain.ErrNotFound)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := domain.OrderFlowSnapshot{
		Instrument: instrument,
		WindowEnd:  now,
		Degraded:   st.degraded,
	}
	if bp, _, ok := st.book.Best(domain.SideBid); ok {
		snap.BestBid = bp
	}
	if ap, _, ok := st.book.Best(domain.SideAsk); ok {
		snap.BestAsk = ap
	}
	snap.Imbalance, _ = st.book.Imbalance(e.cfg.ImbalanceLevels)
	if mp, ok := st.book.Microprice(); ok {
		snap.Microprice = mp
	}
	snap.VolumeDelta = st.delta.value(now)

	if v, isReal, ok := st.vwap.value(e.sessionAnchor(now), now); ok {
		snap.VWAP = v
		snap.VWAPKind = domain.VolumeProxy
		if isReal {
			snap.VWAPKind = domain.VolumeReal
		}
	}

	if st.sweep.ready(e.cfg.Sweep.Lookback) {
		dist := float64(e.cfg.Sweep.MinTicks) * e.cfg.Sweep.tick(instrument)
		snap.SweepRisk, snap.SweepSide = st.sweep.detect(e.cfg.Sweep.Lookback, dist)
	}

	snap.Ready = st.book.Ready()
	return snap, nil
}

// Quote returns the best bid and ask of the live book. ok is false until
// both sides have a level.
func (e *Engine) Quote(instrument string) (bid, ask float64, ok bool) {
	st, found := e.lookup(instrument)
	if !found {
		return 0, 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	bid, _, okBid := st.book.Best(domain.SideBid)
	ask, _, okAsk := st.book.Best(domain.SideAsk)
	return bid, ask, okBid && okAsk
}

// Instruments lists every instrument with state.
func (e *Engine) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.states))
	for k := range e.states {
		out = append(out, k)
	}
	return out
}

// EmitAll publishes a snapshot for every known instrument.
func (e *Engine) EmitAll(now time.Time) int {
	n := 0
	for _, inst := range e.Instruments() {
		snap, err := e.Snapshot(inst, now)
		if err != nil {
			continue
		}
		if e.pub != nil && e.pub.PushOrderFlow(snap) {
			n++
		}
	}
	return n
}

// Run emits snapshots and closes trade bars on the snapshot interval until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := e.now()
			e.bars.Flush(now)
			e.EmitAll(now)
		}
	}
}

// FlushBars closes trade-print bars whose bucket has ended.
func (e *Engine) FlushBars(now time.Time) int { return e.bars.Flush(now) }

// barFeed routes synthesized bars into the per-instrument sweep buffer.
type barFeed struct{ e *Engine }

func (f barFeed) PushCandle(c domain.Candle) bool {
	st := f.e.state(c.Instrument)
	st.mu.Lock()
	st.sweep.push(c)
	st.mu.Unlock()
	return true
}
