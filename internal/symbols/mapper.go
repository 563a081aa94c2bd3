// Package symbols resolves a venue's continuous (roll-adjusted) futures
// symbols to the concrete contract currently trading and to the numeric
// instrument id the venue stamps on book and trade records.
//
// Mapping announcements and market data share one stream with no ordering
// guarantee between them. Records for an instrument id that has not been
// mapped yet are parked in a bounded per-id queue and replayed, in arrival
// order, as soon as the mapping shows up. Queues that wait longer than the
// pending timeout are dropped with a warning.
//
// After a roll the expired contract's id still resolves in reverse, but its
// records are no longer routed: only the id currently mapped to a
// continuous symbol reaches the sink.
package symbols

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// ResolvedInstrument is the concrete contract behind a continuous symbol.
type ResolvedInstrument struct {
	Continuous   string `json:"continuous"`
	RawSymbol    string `json:"raw_symbol"`
	InstrumentID uint32 `json:"instrument_id"`
}

// MappingEvent is the venue's announcement that Continuous now trades as
// RawSymbol with the given numeric id.
type MappingEvent struct {
	Continuous   string    `json:"continuous"`
	RawSymbol    string    `json:"raw_symbol"`
	InstrumentID uint32    `json:"instrument_id"`
	Time         time.Time `json:"time"`
}

// Sink receives resolved events keyed by continuous symbol.
type Sink func(instrument string, ev domain.VenueEvent)

// Config bounds the pending buffers.
type Config struct {
	PendingLimit   int
	PendingTimeout time.Duration
}

type pendingQueue struct {
	events  []domain.VenueEvent
	since   time.Time
	dropped int
	// draining is set while a mapping replays the queue; new records for
	// the id append behind it instead of overtaking.
	draining bool
}

// Mapper holds the continuous→raw, raw→id and id→continuous tables.
type Mapper struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	contToRaw map[string]string
	rawToID   map[string]uint32
	idToCont  map[uint32]string
	pending   map[uint32]*pendingQueue
	npending  int
	stale     map[uint32]int
}

// New creates a Mapper that delivers resolved events to sink.
func New(cfg Config, sink Sink, logger *slog.Logger) *Mapper {
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = 1000
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 30 * time.Second
	}
	return &Mapper{
		cfg:       cfg,
		sink:      sink,
		logger:    logger.With(slog.String("component", "symbol_mapper")),
		now:       time.Now,
		contToRaw: make(map[string]string),
		rawToID:   make(map[string]uint32),
		idToCont:  make(map[uint32]string),
		pending:   make(map[uint32]*pendingQueue),
		stale:     make(map[uint32]int),
	}
}

// SetClock overrides the wall clock. Intended for tests.
func (m *Mapper) SetClock(now func() time.Time) { m.now = now }

// Resolve returns the contract currently mapped to a continuous symbol.
func (m *Mapper) Resolve(continuous string) (ResolvedInstrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.contToRaw[continuous]
	if !ok {
		return ResolvedInstrument{}, false
	}
	id, ok := m.rawToID[raw]
	if !ok {
		return ResolvedInstrument{}, false
	}
	return ResolvedInstrument{Continuous: continuous, RawSymbol: raw, InstrumentID: id}, true
}

// ResolveRaw returns the numeric id announced for a raw contract symbol.
func (m *Mapper) ResolveRaw(raw string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rawToID[raw]
	return id, ok
}

// Continuous returns the continuous symbol an instrument id belongs to.
// Ids of rolled-off contracts keep resolving here for lookups and logs; their
// records are not routed.
func (m *Mapper) Continuous(id uint32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.idToCont[id]
	return c, ok
}

// OnMappingEvent records a mapping and replays anything buffered for its id.
func (m *Mapper) OnMappingEvent(ev MappingEvent) {
	m.mu.Lock()
	if prev, ok := m.contToRaw[ev.Continuous]; ok && prev != ev.RawSymbol {
		m.logger.Info("symbol_mapper: contract roll",
			slog.String("continuous", ev.Continuous),
			slog.String("from", prev),
			slog.String("to", ev.RawSymbol),
		)
	}
	m.contToRaw[ev.Continuous] = ev.RawSymbol
	m.rawToID[ev.RawSymbol] = ev.InstrumentID
	m.idToCont[ev.InstrumentID] = ev.Continuous
	delete(m.stale, ev.InstrumentID)

	q, ok := m.pending[ev.InstrumentID]
	if !ok || q.draining {
		m.mu.Unlock()
		return
	}
	q.draining = true
	m.mu.Unlock()

	m.drain(ev.InstrumentID)
}

// drain replays the pending queue for id in batches, calling the sink with
// no lock held. Records submitted meanwhile queue up behind the batch.
func (m *Mapper) drain(id uint32) {
	replayed := 0
	for {
		m.mu.Lock()
		q := m.pending[id]
		if q == nil || len(q.events) == 0 {
			delete(m.pending, id)
			m.mu.Unlock()
			break
		}
		batch := q.events
		q.events = nil
		m.npending -= len(batch)
		metrics.SymbolPending.Set(float64(m.npending))
		cont, current := m.currentLocked(id)
		if !current {
			m.staleLocked(id, len(batch))
		}
		m.mu.Unlock()

		if !current {
			continue
		}
		for _, e := range batch {
			m.sink(cont, e)
		}
		replayed += len(batch)
	}
	if replayed > 0 {
		m.logger.Debug("symbol_mapper: replayed buffered events",
			slog.Uint64("instrument_id", uint64(id)),
			slog.Int("events", replayed),
		)
	}
}

// currentLocked returns the continuous symbol for id and whether id is the
// contract that symbol currently maps to. Caller holds m.mu.
func (m *Mapper) currentLocked(id uint32) (string, bool) {
	cont, ok := m.idToCont[id]
	if !ok {
		return "", false
	}
	return cont, m.rawToID[m.contToRaw[cont]] == id
}

// staleLocked counts records dropped for a rolled-off id. Caller holds m.mu
// for writing.
func (m *Mapper) staleLocked(id uint32, n int) {
	metrics.SymbolStale.Add(float64(n))
	first := m.stale[id] == 0
	m.stale[id] += n
	if first {
		m.logger.Warn("symbol_mapper: dropping records for rolled-off contract",
			slog.Uint64("instrument_id", uint64(id)),
			slog.String("continuous", m.idToCont[id]),
		)
	}
}

// Submit routes ev to the sink when its instrument id is the current
// contract of a continuous symbol, buffers it while the id is unmapped, and
// drops it when the id has been rolled off.
func (m *Mapper) Submit(ev domain.VenueEvent) {
	id := ev.InstrumentID
	m.mu.RLock()
	_, busy := m.pending[id]
	cont, current := m.currentLocked(id)
	m.mu.RUnlock()
	if current && !busy {
		m.sink(cont, ev)
		return
	}

	m.mu.Lock()
	q, busy := m.pending[id]
	cont, current = m.currentLocked(id)
	_, mapped := m.idToCont[id]
	switch {
	case current && !busy:
		m.mu.Unlock()
		m.sink(cont, ev)
		return
	case mapped && !current:
		m.staleLocked(id, 1)
		m.mu.Unlock()
		return
	}
	if !busy {
		q = &pendingQueue{since: m.now()}
		m.pending[id] = q
	}
	if len(q.events) >= m.cfg.PendingLimit {
		q.events = q.events[1:]
		q.dropped++
		m.npending--
		metrics.SymbolDropped.Inc()
	}
	q.events = append(q.events, ev)
	m.npending++
	metrics.SymbolPending.Set(float64(m.npending))
	m.mu.Unlock()
}

// Stale returns how many records were dropped for id after it rolled off.
func (m *Mapper) Stale(id uint32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale[id]
}

// Pending returns the number of events buffered for id.
func (m *Mapper) Pending(id uint32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if q, ok := m.pending[id]; ok {
		return len(q.events)
	}
	return 0
}

// Sweep drops every pending queue that has waited longer than the pending
// timeout and returns how many events were discarded.
func (m *Mapper) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for id, q := range m.pending {
		if q.draining || now.Sub(q.since) < m.cfg.PendingTimeout {
			continue
		}
		delete(m.pending, id)
		n := len(q.events)
		m.npending -= n
		total += n
		metrics.SymbolDropped.Add(float64(n))
		m.logger.Warn("symbol_mapper: no mapping before timeout, dropping buffered events",
			slog.Uint64("instrument_id", uint64(id)),
			slog.Int("events", n),
			slog.Int("overflowed", q.dropped),
			slog.Duration("waited", now.Sub(q.since)),
		)
	}
	metrics.SymbolPending.Set(float64(m.npending))
	return total
}

// Run sweeps expired queues on interval until ctx is cancelled.
func (m *Mapper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.cfg.PendingTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}
