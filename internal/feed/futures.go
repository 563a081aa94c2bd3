package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/platform/wsconn"
	"github.com/alanyoungcy/scalpcore/internal/symbols"
)

// FlowEngine consumes resolved venue records, normally *orderflow.Engine.
type FlowEngine interface {
	Apply(instrument string, ev domain.VenueEvent)
	Quote(instrument string) (bid, ask float64, ok bool)
}

// futuresMsg is the futures wire format. One JSON object per frame, with
// type selecting the populated fields; ts is unix milliseconds. A book
// record's level is its depth rank (0 is best) and replaces whatever was
// resting at that rank.
//
//	{"type":"mapping","continuous":"ES.c.0","raw_symbol":"ESH4","instrument_id":4916,"ts":...}
//	{"type":"book","instrument_id":4916,"seq":101,"side":"bid","level":0,"price":5000.25,"size":12,"ts":...}
//	{"type":"trade","instrument_id":4916,"seq":102,"price":5000.5,"size":3,"aggressor":"buy","ts":...}
//	{"type":"snapshot","instrument_id":4916,"seq":103,"bids":[[5000.25,12]],"asks":[[5000.5,9]],"ts":...}
type futuresMsg struct {
	Type         string       `json:"type"`
	TS           int64        `json:"ts"`
	Continuous   string       `json:"continuous"`
	RawSymbol    string       `json:"raw_symbol"`
	InstrumentID uint32       `json:"instrument_id"`
	Seq          uint64       `json:"seq"`
	Side         string       `json:"side"`
	Level        int          `json:"level"`
	Price        float64      `json:"price"`
	Size         float64      `json:"size"`
	Aggressor    string       `json:"aggressor"`
	Bids         [][2]float64 `json:"bids"`
	Asks         [][2]float64 `json:"asks"`
}

// FuturesConfig configures the futures feed.
type FuturesConfig struct {
	WS      wsconn.Config
	Source  string
	Symbols []string
	Mapper  symbols.Config
	// SweepInterval is how often stale pending buffers are dropped.
	SweepInterval time.Duration
}

// FuturesFeed decodes the futures stream, resolves instrument ids through
// the symbol mapper and drives the order-flow engine. After each book change
// it publishes the engine's best bid/ask to the hub as a tick.
type FuturesFeed struct {
	cfg    FuturesConfig
	engine FlowEngine
	ticks  TickPusher
	mapper *symbols.Mapper
	client *wsconn.Client
	logger *slog.Logger
	now    func() time.Time

	received atomic.Int64
	rejected atomic.Int64
}

// NewFuturesFeed creates a FuturesFeed with its own symbol mapper.
func NewFuturesFeed(cfg FuturesConfig, engine FlowEngine, ticks TickPusher, logger *slog.Logger) *FuturesFeed {
	if cfg.Source == "" {
		cfg.Source = "futures"
	}
	if cfg.WS.Name == "" {
		cfg.WS.Name = "futures"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	f := &FuturesFeed{
		cfg:    cfg,
		engine: engine,
		ticks:  ticks,
		logger: logger.With(slog.String("component", "futures_feed")),
		now:    time.Now,
	}
	f.mapper = symbols.New(cfg.Mapper, f.deliver, logger)
	f.client = wsconn.New(cfg.WS, f.subscribe, logger)
	return f
}

// Mapper exposes the symbol tables.
func (f *FuturesFeed) Mapper() *symbols.Mapper { return f.mapper }

func (f *FuturesFeed) subscribe(_ context.Context, c *wsconn.Client) error {
	return c.SendJSON(spotSubscribe{Action: "subscribe", Symbols: f.cfg.Symbols})
}

// Run streams and sweeps pending buffers until ctx is cancelled.
func (f *FuturesFeed) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "futures_feed: starting", slog.Any("symbols", f.cfg.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.client.Run(gctx, f.Handle) })
	g.Go(func() error { return f.mapper.Run(gctx, f.cfg.SweepInterval) })
	return g.Wait()
}

// Handle decodes one frame and routes it.
func (f *FuturesFeed) Handle(ctx context.Context, msg []byte) {
	var m futuresMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		f.reject(ctx, "decode", err)
		return
	}
	ts := msTime(m.TS, f.now)

	switch m.Type {
	case "mapping":
		if m.Continuous == "" || m.RawSymbol == "" {
			f.reject(ctx, "mapping", fmt.Errorf("incomplete mapping for id %d", m.InstrumentID))
			return
		}
		f.mapper.OnMappingEvent(symbols.MappingEvent{
			Continuous:   m.Continuous,
			RawSymbol:    m.RawSymbol,
			InstrumentID: m.InstrumentID,
			Time:         ts,
		})
		return
	case "book", "trade", "snapshot":
	default:
		return
	}

	ev, err := m.venueEvent(ts)
	if err != nil {
		f.reject(ctx, m.Type, err)
		return
	}
	f.received.Add(1)
	f.mapper.Submit(ev)
}

func (m futuresMsg) venueEvent(ts time.Time) (domain.VenueEvent, error) {
	ev := domain.VenueEvent{InstrumentID: m.InstrumentID, Seq: m.Seq, Time: ts}
	switch m.Type {
	case "book":
		side, err := parseSide(m.Side)
		if err != nil {
			return ev, err
		}
		if m.Price <= 0 || m.Size < 0 {
			return ev, fmt.Errorf("bad level %.8f x %.8f", m.Price, m.Size)
		}
		ev.Book = &domain.BookUpdate{Side: side, Level: m.Level, Price: m.Price, Size: m.Size}
	case "trade":
		ev.Trade = &domain.TradePrint{
			Price:     m.Price,
			Size:      m.Size,
			Aggressor: parseAggressor(m.Aggressor),
			Time:      ts,
		}
	case "snapshot":
		ev.Snapshot = &domain.BookSnapshot{
			Bids: levels(domain.SideBid, m.Bids),
			Asks: levels(domain.SideAsk, m.Asks),
		}
	}
	return ev, nil
}

// deliver is the mapper sink: resolved records go to the engine, and book
// changes refresh the instrument's tick.
func (f *FuturesFeed) deliver(instrument string, ev domain.VenueEvent) {
	f.engine.Apply(instrument, ev)
	if ev.Book == nil && ev.Snapshot == nil {
		return
	}
	bid, ask, ok := f.engine.Quote(instrument)
	if !ok {
		return
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = f.now().UTC()
	}
	f.ticks.PushTick(domain.Tick{
		Instrument: instrument,
		Time:       ts,
		Bid:        bid,
		Ask:        ask,
		Source:     f.cfg.Source,
	})
}

func (f *FuturesFeed) reject(ctx context.Context, stage string, err error) {
	f.rejected.Add(1)
	f.logger.DebugContext(ctx, "futures_feed: message dropped",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// Stats returns the accepted-record and rejected-frame counters.
func (f *FuturesFeed) Stats() (received, rejected int64) {
	return f.received.Load(), f.rejected.Load()
}

func parseSide(s string) (domain.Side, error) {
	switch strings.ToLower(s) {
	case "bid", "b", "buy":
		return domain.SideBid, nil
	case "ask", "a", "sell":
		return domain.SideAsk, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func parseAggressor(s string) domain.Aggressor {
	switch strings.ToLower(s) {
	case "buy", "b":
		return domain.AggressorBuy
	case "sell", "s", "a":
		return domain.AggressorSell
	}
	return domain.AggressorNone
}

func levels(side domain.Side, raw [][2]float64) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(raw))
	for i, pl := range raw {
		out = append(out, domain.BookLevel{Side: side, Price: pl[0], Size: pl[1], Rank: i})
	}
	return out
}
