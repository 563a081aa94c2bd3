package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/hub"
)

// MarketReader is the slice of the hub the engine reads.
type MarketReader interface {
	LatestTick(instrument string) (hub.TickView, bool)
	LatestCandles(instrument, source string, limit int) hub.CandleView
	LatestOrderFlow(instrument string) (hub.FlowView, bool)
}

// Proposer receives setups, normally the lifecycle manager.
type Proposer interface {
	Propose(ctx context.Context, setup domain.Setup) (domain.PositionRecord, error)
}

// EngineConfig tunes the detection loop.
type EngineConfig struct {
	CandleLimit int
	Cooldown    time.Duration
	Workers     int
	Buffer      int
}

func (c *EngineConfig) applyDefaults() {
	if c.CandleLimit <= 0 {
		c.CandleLimit = 100
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// Engine re-evaluates every registered detector for an instrument whenever
// the hub reports a new candle or order-flow snapshot for it, and forwards
// resulting setups to the Proposer.
type Engine struct {
	cfg      EngineConfig
	registry *Registry
	market   MarketReader
	proposer Proposer
	logger   *slog.Logger
	now      func() time.Time

	triggers chan string

	mu           sync.Mutex
	queued       map[string]bool
	lastProposed map[string]time.Time
	recent       []domain.Setup
	recentLimit  int
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig, registry *Registry, market MarketReader, proposer Proposer, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:          cfg,
		registry:     registry,
		market:       market,
		proposer:     proposer,
		logger:       logger.With(slog.String("component", "strategy_engine")),
		now:          time.Now,
		triggers:     make(chan string, cfg.Buffer),
		queued:       make(map[string]bool),
		lastProposed: make(map[string]time.Time),
		recentLimit:  500,
	}
}

// SetClock replaces the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// OnUpdate is a hub listener. It never blocks: an instrument already queued
// is not queued twice, and a full queue drops the trigger.
func (e *Engine) OnUpdate(u hub.Update) {
	if u.Kind != hub.KindCandle && u.Kind != hub.KindOrderFlow {
		return
	}
	inst := u.Instrument()
	e.mu.Lock()
	if e.queued[inst] {
		e.mu.Unlock()
		return
	}
	e.queued[inst] = true
	e.mu.Unlock()

	select {
	case e.triggers <- inst:
	default:
		e.mu.Lock()
		delete(e.queued, inst)
		e.mu.Unlock()
	}
}

func (e *Engine) inputs(instrument string, now time.Time) Inputs {
	in := Inputs{Instrument: instrument, Now: now}
	in.Tick, in.HasTick = e.market.LatestTick(instrument)
	in.Candles = e.market.LatestCandles(instrument, "", e.cfg.CandleLimit)
	in.Flow, in.HasFlow = e.market.LatestOrderFlow(instrument)
	return in
}

// Evaluate runs every detector against the instrument's current state and
// returns the setups that are not inside their re-proposal cooldown.
func (e *Engine) Evaluate(ctx context.Context, instrument string) []domain.Setup {
	now := e.now()
	in := e.inputs(instrument, now)

	var out []domain.Setup
	for _, d := range e.registry.All() {
		setups, err := d.Detect(ctx, in)
		switch {
		case errors.Is(err, domain.ErrNotReady):
			continue
		case err != nil:
			e.registry.record(d.Name(), 0, true, now)
			e.logger.WarnContext(ctx, "strategy_engine: detector failed",
				slog.String("detector", d.Name()),
				slog.String("instrument", instrument),
				slog.String("error", err.Error()),
			)
			continue
		}
		kept := e.admit(setups, now)
		e.registry.record(d.Name(), len(kept), false, now)
		out = append(out, kept...)
	}
	return out
}

// admit drops setups proposed for the same instrument and kind within the
// cooldown and remembers the rest.
func (e *Engine) admit(setups []domain.Setup, now time.Time) []domain.Setup {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := setups[:0:0]
	for _, s := range setups {
		key := s.Instrument + "|" + s.Kind
		if last, ok := e.lastProposed[key]; ok && now.Sub(last) < e.cfg.Cooldown {
			continue
		}
		e.lastProposed[key] = now
		kept = append(kept, s)
		e.recent = append(e.recent, s)
	}
	if overflow := len(e.recent) - e.recentLimit; overflow > 0 {
		e.recent = append([]domain.Setup(nil), e.recent[overflow:]...)
	}
	return kept
}

// RecentSetups returns up to limit most recent setups, newest first.
func (e *Engine) RecentSetups(limit int) []domain.Setup {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recent)
	if limit > n {
		limit = n
	}
	out := make([]domain.Setup, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

func (e *Engine) handle(ctx context.Context, instrument string) {
	e.mu.Lock()
	delete(e.queued, instrument)
	e.mu.Unlock()

	for _, s := range e.Evaluate(ctx, instrument) {
		pos, err := e.proposer.Propose(ctx, s)
		switch {
		case err == nil:
			e.logger.InfoContext(ctx, "strategy_engine: setup accepted",
				slog.String("instrument", s.Instrument),
				slog.String("setup", s.Kind),
				slog.String("position_id", pos.ID),
			)
		case errors.Is(err, domain.ErrSlotBusy), errors.Is(err, domain.ErrGateClosed),
			errors.Is(err, domain.ErrRejected), errors.Is(err, domain.ErrLimitReached),
			errors.Is(err, domain.ErrCooldown), errors.Is(err, domain.ErrLossBudget):
			e.logger.DebugContext(ctx, "strategy_engine: setup not taken",
				slog.String("instrument", s.Instrument),
				slog.String("setup", s.Kind),
				slog.String("reason", err.Error()),
			)
		default:
			e.logger.WarnContext(ctx, "strategy_engine: propose failed",
				slog.String("instrument", s.Instrument),
				slog.String("setup", s.Kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Run starts the worker pool. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "strategy engine started",
		slog.Any("detectors", e.registry.List()),
		slog.Int("workers", e.cfg.Workers),
	)
	defer e.logger.Info("strategy engine stopped")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case inst := <-e.triggers:
					e.handle(gctx, inst)
				}
			}
		})
	}
	return g.Wait()
}
