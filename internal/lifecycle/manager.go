// Package lifecycle runs the per-instrument trade state machine
// IDLE -> PENDING_APPROVAL -> OPEN -> CLOSING -> IDLE, with portfolio guards
// held in an injectable RiskLedger and entry approval delegated to an
// external DecisionOracle.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
	"github.com/alanyoungcy/scalpcore/internal/hub"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// State is a slot's position in the lifecycle.
type State string

const (
	StateIdle    State = "IDLE"
	StatePending State = "PENDING_APPROVAL"
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
)

// MarketReader is the slice of the hub the manager reads.
type MarketReader interface {
	LatestTick(instrument string) (hub.TickView, bool)
	LatestCandles(instrument, source string, limit int) hub.CandleView
	LatestOrderFlow(instrument string) (hub.FlowView, bool)
}

// Gate is the entry gate plus its emergency check for open positions.
type Gate interface {
	Evaluate(instrument string, now time.Time) gate.Result
	Emergency(instrument string, now time.Time) (domain.GatingWindow, bool)
}

// Config holds the manager's timing and sizing parameters.
type Config struct {
	MaxHold           time.Duration
	OracleTimeout     time.Duration
	SuperviseInterval time.Duration
	SizeTiers         []float64
	CandleLimit       int
	HistoryLimit      int
}

func (c *Config) applyDefaults() {
	if c.MaxHold <= 0 {
		c.MaxHold = 15 * time.Minute
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 10 * time.Second
	}
	if c.SuperviseInterval <= 0 {
		c.SuperviseInterval = time.Second
	}
	if len(c.SizeTiers) == 0 {
		c.SizeTiers = []float64{1}
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 50
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
}

type slot struct {
	state State
	pos   domain.PositionRecord
}

// Manager owns every instrument slot and the risk ledger.
type Manager struct {
	cfg    Config
	market MarketReader
	gate   Gate
	oracle DecisionOracle
	ledger *RiskLedger
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	slots   map[string]*slot
	history []domain.PositionRecord

	subsMu  sync.RWMutex
	subs    map[int]func(domain.PositionEvent)
	nextSub int
}

// NewManager creates a Manager.
func NewManager(cfg Config, market MarketReader, g Gate, oracle DecisionOracle, ledger *RiskLedger, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if ledger == nil {
		ledger = NewRiskLedger(Limits{})
	}
	return &Manager{
		cfg:    cfg,
		market: market,
		gate:   g,
		oracle: oracle,
		ledger: ledger,
		logger: logger.With(slog.String("component", "lifecycle")),
		now:    time.Now,
		slots:  make(map[string]*slot),
		subs:   make(map[int]func(domain.PositionEvent)),
	}
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Ledger returns the manager's risk ledger.
func (m *Manager) Ledger() *RiskLedger { return m.ledger }

// slot returns the slot for instrument, creating it idle. Caller holds mu.
func (m *Manager) slot(instrument string) *slot {
	s, ok := m.slots[instrument]
	if !ok {
		s = &slot{state: StateIdle}
		m.slots[instrument] = s
	}
	return s
}

// State returns the instrument's slot state.
func (m *Manager) State(instrument string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[instrument]; ok {
		return s.state
	}
	return StateIdle
}

// Propose runs a setup through the guards, the gate and the oracle. On
// approval the position opens at the live quote and is returned.
func (m *Manager) Propose(ctx context.Context, setup domain.Setup) (domain.PositionRecord, error) {
	inst := setup.Instrument
	if inst == "" {
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: propose: setup without instrument")
	}
	now := m.now()

	m.mu.Lock()
	s := m.slot(inst)
	if s.state != StateIdle {
		state := s.state
		m.mu.Unlock()
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: propose %s: %w (%s)", inst, domain.ErrSlotBusy, state)
	}
	res, err := m.ledger.Reserve(now)
	if err != nil {
		m.mu.Unlock()
		return domain.PositionRecord{}, err
	}
	s.state = StatePending
	m.mu.Unlock()

	g := m.gate.Evaluate(inst, now)
	if !g.Allowed {
		m.abort(s, res)
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: propose %s: %w: %s", inst, domain.ErrGateClosed, g.Reason)
	}

	verdict, err := m.decide(ctx, m.snapshot(setup, g, now))
	if err != nil {
		m.abort(s, res)
		m.logger.WarnContext(ctx, "lifecycle: oracle unavailable, treating as reject",
			slog.String("instrument", inst),
			slog.String("error", err.Error()),
		)
		return domain.PositionRecord{}, err
	}
	if !verdict.Approved {
		m.abort(s, res)
		m.logger.InfoContext(ctx, "lifecycle: setup rejected",
			slog.String("instrument", inst),
			slog.String("setup", setup.Kind),
			slog.String("reason", verdict.Reason),
		)
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: propose %s: %w", inst, domain.ErrRejected)
	}

	pos, err := m.fill(setup, verdict, m.now())
	if err != nil {
		m.abort(s, res)
		return domain.PositionRecord{}, err
	}

	m.mu.Lock()
	s.state = StateOpen
	s.pos = pos
	m.ledger.Commit(res, pos.EntryTime)
	m.mu.Unlock()
	metrics.PositionsOpen.Inc()

	m.logger.InfoContext(ctx, "lifecycle: position opened",
		slog.String("position_id", pos.ID),
		slog.String("instrument", inst),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("stop", pos.Stop),
		slog.Float64("target", pos.Target),
		slog.Int("size_tier", pos.SizeTier),
	)
	m.emit(domain.PositionEvent{Type: domain.PositionOpened, Position: pos, At: pos.EntryTime})
	return pos, nil
}

func (m *Manager) abort(s *slot, res *Reservation) {
	m.mu.Lock()
	s.state = StateIdle
	m.ledger.Release(res)
	m.mu.Unlock()
}

func (m *Manager) snapshot(setup domain.Setup, g gate.Result, now time.Time) Snapshot {
	snap := Snapshot{Setup: setup, Gate: g, At: now}
	snap.Tick, _ = m.market.LatestTick(setup.Instrument)
	snap.Candles = m.market.LatestCandles(setup.Instrument, "", m.cfg.CandleLimit)
	if fv, ok := m.market.LatestOrderFlow(setup.Instrument); ok {
		snap.Flow = &fv
	}
	return snap
}

// decide calls the oracle under a deadline. Timeouts and errors are rejects.
func (m *Manager) decide(ctx context.Context, snap Snapshot) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OracleTimeout)
	defer cancel()

	type result struct {
		v   Verdict
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := m.oracle.Decide(ctx, snap)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	metrics.OracleLatency.Observe(time.Since(start).Seconds())

	switch {
	case r.err != nil && errors.Is(r.err, context.DeadlineExceeded):
		metrics.OracleVerdicts.WithLabelValues("timeout").Inc()
		return Verdict{}, fmt.Errorf("lifecycle: oracle: %w: %w", domain.ErrRejected, domain.ErrOracleTimeout)
	case r.err != nil:
		metrics.OracleVerdicts.WithLabelValues("error").Inc()
		return Verdict{}, fmt.Errorf("lifecycle: oracle: %w: %w", domain.ErrRejected, r.err)
	case !r.v.Approved:
		metrics.OracleVerdicts.WithLabelValues("rejected").Inc()
	default:
		metrics.OracleVerdicts.WithLabelValues("approved").Inc()
	}
	return r.v, nil
}

// fill fixes entry, stop and target from the live quote. Stop and target
// keep their distances from the reference price the oracle or setup used.
func (m *Manager) fill(setup domain.Setup, v Verdict, now time.Time) (domain.PositionRecord, error) {
	inst := setup.Instrument
	tv, ok := m.market.LatestTick(inst)
	if !ok || tv.Stale {
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: open %s: %w", inst, domain.ErrStale)
	}

	dir := setup.Direction
	if v.Direction != "" {
		dir = v.Direction
	}
	entry := tv.Tick.Ask
	if dir == domain.Short {
		entry = tv.Tick.Bid
	}

	ref := setup.Price
	if v.Entry > 0 {
		ref = v.Entry
	}
	stopLevel, targetLevel := setup.Stop, setup.Target
	if v.Stop > 0 {
		stopLevel = v.Stop
	}
	if v.Target > 0 {
		targetLevel = v.Target
	}
	stopDist := math.Abs(ref - stopLevel)
	targetDist := math.Abs(targetLevel - ref)
	if ref <= 0 || stopDist == 0 || targetDist == 0 {
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: open %s: degenerate stop/target", inst)
	}
	sign := dir.Sign()
	stop := entry - sign*stopDist
	target := entry + sign*targetDist
	if stop <= 0 || target <= 0 {
		return domain.PositionRecord{}, fmt.Errorf("lifecycle: open %s: stop/target out of range", inst)
	}

	tier := min(max(v.SizeTier, 1), len(m.cfg.SizeTiers))
	conf := v.Confidence
	if conf == 0 {
		conf = setup.Confidence
	}

	return domain.PositionRecord{
		ID:          uuid.NewString(),
		Instrument:  inst,
		Direction:   dir,
		EntryPrice:  entry,
		EntryTime:   now,
		Stop:        stop,
		Target:      target,
		Size:        m.cfg.SizeTiers[tier-1],
		SizeTier:    tier,
		Confidence:  conf,
		Setup:       setup.Kind,
		Status:      domain.PositionStatusOpen,
		RealizedPnL: decimal.Zero,
	}, nil
}

// exitPrice is the side of the quote a position closes against.
func exitPrice(dir domain.Direction, t domain.Tick) float64 {
	if dir == domain.Short {
		return t.Ask
	}
	return t.Bid
}

// Supervise closes every open position whose stop, target, hold ceiling or
// emergency condition has been reached at now. The hold ceiling only needs
// the clock, so it fires with no market data at all.
func (m *Manager) Supervise(ctx context.Context, now time.Time) int {
	open := m.Positions()
	closed := 0
	for _, p := range open {
		reason, price, ok := m.check(ctx, p, now)
		if !ok {
			continue
		}
		if _, err := m.closeAt(ctx, p.ID, reason, price, now); err != nil {
			if !errors.Is(err, domain.ErrAlreadyClosed) {
				m.logger.WarnContext(ctx, "lifecycle: close failed",
					slog.String("position_id", p.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		closed++
	}
	return closed
}

func (m *Manager) check(ctx context.Context, p domain.PositionRecord, now time.Time) (domain.CloseReason, float64, bool) {
	tv, hasTick := m.market.LatestTick(p.Instrument)
	mark := p.EntryPrice
	if hasTick {
		mark = exitPrice(p.Direction, tv.Tick)
	}

	if p.Age(now) >= m.cfg.MaxHold {
		return domain.CloseTimeout, mark, true
	}
	if w, hit := m.gate.Emergency(p.Instrument, now); hit {
		m.logger.WarnContext(ctx, "lifecycle: emergency window active",
			slog.String("position_id", p.ID),
			slog.String("window", w.ID),
			slog.String("reason", w.Reason),
		)
		return domain.CloseEmergency, mark, true
	}
	if !hasTick || tv.Stale {
		return "", 0, false
	}

	if p.Direction == domain.Short {
		switch {
		case tv.Tick.Ask >= p.Stop:
			return domain.CloseStop, mark, true
		case tv.Tick.Ask <= p.Target:
			return domain.CloseTarget, mark, true
		}
		return "", 0, false
	}
	switch {
	case tv.Tick.Bid <= p.Stop:
		return domain.CloseStop, mark, true
	case tv.Tick.Bid >= p.Target:
		return domain.CloseTarget, mark, true
	}
	return "", 0, false
}

// ClosePosition closes an open position at the current quote, or at its
// entry price when no quote exists. A position closes exactly once; later
// calls return ErrAlreadyClosed.
func (m *Manager) ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (domain.PositionRecord, error) {
	now := m.now()
	m.mu.Lock()
	s := m.findLocked(id)
	var p domain.PositionRecord
	if s != nil {
		p = s.pos
	}
	m.mu.Unlock()
	if s == nil {
		return domain.PositionRecord{}, m.missing(id)
	}

	price := p.EntryPrice
	if tv, ok := m.market.LatestTick(p.Instrument); ok {
		price = exitPrice(p.Direction, tv.Tick)
	}
	return m.closeAt(ctx, id, reason, price, now)
}

func (m *Manager) closeAt(ctx context.Context, id string, reason domain.CloseReason, price float64, now time.Time) (domain.PositionRecord, error) {
	m.mu.Lock()
	s := m.findLocked(id)
	if s == nil || s.state != StateOpen {
		m.mu.Unlock()
		return domain.PositionRecord{}, m.missing(id)
	}
	s.state = StateClosing
	pos := s.pos
	m.mu.Unlock()

	exit := now
	pos.Status = domain.PositionStatusClosed
	pos.CloseReason = reason
	pos.ExitPrice = price
	pos.ExitTime = &exit
	pos.RealizedPnL = pos.PnLAt(price)

	m.mu.Lock()
	m.ledger.Finalize(pos.RealizedPnL, now)
	s.state = StateIdle
	s.pos = domain.PositionRecord{}
	m.history = append(m.history, pos)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.mu.Unlock()

	metrics.PositionsOpen.Dec()
	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	m.logger.InfoContext(ctx, "lifecycle: position closed",
		slog.String("position_id", pos.ID),
		slog.String("instrument", pos.Instrument),
		slog.String("reason", string(reason)),
		slog.Float64("exit", price),
		slog.String("pnl", pos.RealizedPnL.StringFixed(5)),
	)
	m.emit(domain.PositionEvent{Type: domain.PositionClosed, Position: pos, At: now})
	return pos, nil
}

// findLocked returns the slot holding position id. Caller holds mu.
func (m *Manager) findLocked(id string) *slot {
	for _, s := range m.slots {
		if (s.state == StateOpen || s.state == StateClosing) && s.pos.ID == id {
			return s
		}
	}
	return nil
}

func (m *Manager) missing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.history {
		if p.ID == id {
			return fmt.Errorf("lifecycle: close %s: %w", id, domain.ErrAlreadyClosed)
		}
	}
	for _, s := range m.slots {
		if s.state == StateClosing && s.pos.ID == id {
			return fmt.Errorf("lifecycle: close %s: %w", id, domain.ErrAlreadyClosed)
		}
	}
	return fmt.Errorf("lifecycle: close %s: %w", id, domain.ErrNotFound)
}

// Restore reopens positions recovered from durable storage at startup.
func (m *Manager) Restore(positions []domain.PositionRecord) int {
	m.mu.Lock()
	n := 0
	for _, p := range positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		s := m.slot(p.Instrument)
		if s.state != StateIdle {
			continue
		}
		s.state = StateOpen
		s.pos = p
		n++
	}
	open := 0
	for _, s := range m.slots {
		if s.state == StateOpen {
			open++
		}
	}
	m.mu.Unlock()
	m.ledger.Restore(open, m.now())
	metrics.PositionsOpen.Set(float64(open))
	return n
}

// ResyncResult reports what Resync changed.
type ResyncResult struct {
	Restored int
	Retired  int
	Open     int
}

// Resync reconciles the open set with durable storage. Open positions in the
// store are adopted. In-memory positions the store records as closed, by
// another process, are retired without a close event. Positions the store
// has not seen yet are kept.
func (m *Manager) Resync(ctx context.Context, store domain.PositionStore) (ResyncResult, error) {
	var res ResyncResult
	open, err := store.GetOpen(ctx)
	if err != nil {
		return res, fmt.Errorf("lifecycle: resync: %w", err)
	}
	known := make(map[string]struct{}, len(open))
	for _, p := range open {
		known[p.ID] = struct{}{}
	}
	for _, p := range m.Positions() {
		if _, ok := known[p.ID]; ok {
			continue
		}
		rec, err := store.GetByID(ctx, p.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return res, fmt.Errorf("lifecycle: resync %s: %w", p.ID, err)
		}
		if rec.Status == domain.PositionStatusClosed && m.Retire(rec) {
			res.Retired++
		}
	}
	res.Restored = m.Restore(open)
	res.Open = len(m.Positions())
	return res, nil
}

// Retire drops an open position that was closed elsewhere, moving the
// closed record into history. It reports whether the position was held.
func (m *Manager) Retire(closed domain.PositionRecord) bool {
	m.mu.Lock()
	s := m.findLocked(closed.ID)
	if s == nil || s.state != StateOpen {
		m.mu.Unlock()
		return false
	}
	at := m.now()
	if closed.ExitTime != nil {
		at = *closed.ExitTime
	}
	m.ledger.Finalize(closed.RealizedPnL, at)
	s.state = StateIdle
	s.pos = domain.PositionRecord{}
	m.history = append(m.history, closed)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.mu.Unlock()

	metrics.PositionsOpen.Dec()
	m.logger.Info("lifecycle: position closed elsewhere, retired",
		slog.String("position_id", closed.ID),
		slog.String("instrument", closed.Instrument),
		slog.String("reason", string(closed.CloseReason)),
	)
	return true
}

// Positions returns the open positions, oldest first.
func (m *Manager) Positions() []domain.PositionRecord {
	m.mu.Lock()
	out := make([]domain.PositionRecord, 0, len(m.slots))
	for _, s := range m.slots {
		if s.state == StateOpen {
			out = append(out, s.pos)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// History returns up to limit recently closed positions, newest first.
func (m *Manager) History(limit int) []domain.PositionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.PositionRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Subscribe registers fn for position events. fn runs on the caller's
// goroutine after all locks are released and must not block.
func (m *Manager) Subscribe(fn func(domain.PositionEvent)) (cancel func()) {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()
	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *Manager) emit(ev domain.PositionEvent) {
	m.subsMu.RLock()
	fns := make([]func(domain.PositionEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subsMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Run supervises open positions on every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SuperviseInterval)
	defer ticker.Stop()
	m.logger.InfoContext(ctx, "lifecycle: supervisor started",
		slog.Duration("interval", m.cfg.SuperviseInterval),
		slog.Duration("max_hold", m.cfg.MaxHold),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Supervise(ctx, m.now())
		}
	}
}
