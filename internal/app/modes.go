package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/scalpcore/internal/candles"
	"github.com/alanyoungcy/scalpcore/internal/config"
	"github.com/alanyoungcy/scalpcore/internal/crypto"
	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/feed"
	"github.com/alanyoungcy/scalpcore/internal/gate"
	"github.com/alanyoungcy/scalpcore/internal/hub"
	"github.com/alanyoungcy/scalpcore/internal/lifecycle"
	"github.com/alanyoungcy/scalpcore/internal/orderflow"
	"github.com/alanyoungcy/scalpcore/internal/pipeline"
	"github.com/alanyoungcy/scalpcore/internal/platform/wsconn"
	"github.com/alanyoungcy/scalpcore/internal/server"
	"github.com/alanyoungcy/scalpcore/internal/server/handler"
	"github.com/alanyoungcy/scalpcore/internal/server/ws"
	"github.com/alanyoungcy/scalpcore/internal/strategy"
	"github.com/alanyoungcy/scalpcore/internal/symbols"
)

// leaderKey guards the detection engine so only one process proposes new
// positions at a time.
const leaderKey = "lifecycle:leader"

// leader runs fn while holding a deployment-wide lock. *redis.LockManager
// implements it.
type leader interface {
	Lead(ctx context.Context, key string, ttl time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) error
}

// roles selects which halves of the system a mode runs.
type roles struct {
	ingest bool
	trade  bool
}

// IngestMode runs the feeds, aggregators, order-flow engine and calendar
// poller, persisting candles and mirroring the hub to other processes.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	return a.start(ctx, deps, roles{ingest: true})
}

// TradeMode runs the detectors and the position lifecycle against a hub fed
// through the mirror by an ingest process.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	return a.start(ctx, deps, roles{trade: true})
}

// MonitorMode serves the read-only API and websocket stream from the
// mirrored hub.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	return a.start(ctx, deps, roles{})
}

// FullMode runs ingest and trade in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.start(ctx, deps, roles{ingest: true, trade: true})
}

// system holds the in-process components of one run. Trade-only parts are
// nil unless the mode trades.
type system struct {
	registry  *hub.Registry
	hub       *hub.Hub
	windows   *gate.WindowIndex
	evaluator *gate.Evaluator
	writer    *pipeline.CandleWriter
	archiver  *pipeline.Archiver
	ws        *ws.Hub

	detectors *strategy.Registry
	engine    *strategy.Engine
	manager   *lifecycle.Manager
	events    *lifecycle.Dispatcher
}

func (a *App) start(ctx context.Context, deps *Dependencies, r roles) error {
	a.logger.InfoContext(ctx, "app: starting mode",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("ingest", r.ingest),
		slog.Bool("trade", r.trade),
	)

	sys, err := a.buildSystem(deps, r)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startShared(ctx, g, sys, deps)
	if r.ingest {
		if err := a.startIngest(ctx, g, sys, deps); err != nil {
			return err
		}
	}
	if r.trade {
		a.startTrade(ctx, g, sys, deps.LockManager, deps.PositionStore)
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, sys, deps)
	}
	return g.Wait()
}

// buildSystem constructs every in-process component without starting any
// goroutine.
func (a *App) buildSystem(deps *Dependencies, r roles) (*system, error) {
	cfg := a.cfg
	hubCfg := hub.Config{
		CandleCapacity:  cfg.Hub.CandleCapacity,
		TickCapacity:    cfg.Hub.TickCapacity,
		BaseTimeframe:   cfg.Hub.BaseTimeframe.Duration,
		TickTTL:         cfg.Hub.TickTTL.Duration,
		OrderFlowTTL:    cfg.Hub.OrderFlowTTL.Duration,
		CandleTTLFactor: cfg.Hub.CandleTTLFactor,
	}
	if err := hubCfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: hub: %w", err)
	}
	sessions, err := cfg.Sessions()
	if err != nil {
		return nil, fmt.Errorf("app: gate: %w", err)
	}

	sys := &system{registry: hub.NewRegistry(hubCfg, a.logger)}
	sys.hub = sys.registry.Locate()
	sys.windows = gate.NewWindowIndex()
	sys.evaluator = gate.NewEvaluator(gate.Config{
		Sessions:   sessions,
		MaxSpread:  cfg.Gate.MaxSpread,
		MaxSpreads: cfg.Gate.MaxSpreads,
	}, sys.windows, sys.hub)

	if r.ingest && deps.CandleStore != nil {
		sys.writer = pipeline.NewCandleWriter(deps.CandleStore, cfg.Pipeline.CandleBatchSize,
			cfg.Pipeline.CandleFlushInterval.Duration, a.logger)
	}
	// Archiving belongs to the process that writes candles so that only one
	// deployment member moves rows to cold storage.
	if r.ingest && deps.Archiver != nil {
		retention := time.Duration(cfg.Pipeline.ArchiveRetentionDays) * 24 * time.Hour
		sys.archiver = pipeline.NewArchiver(deps.Archiver, retention, a.logger)
	}

	wsCfg := ws.Config{
		Mode:           cfg.Mode,
		StartedAt:      a.startedAt,
		AllowedOrigins: cfg.Server.CORSOrigins,
	}

	if r.trade {
		sys.detectors = strategy.NewRegistry()
		for _, d := range cfg.Strategy.Detectors {
			det, err := newDetector(d, a.logger)
			if err != nil {
				return nil, err
			}
			sys.detectors.Register(det)
		}

		ledger := lifecycle.NewRiskLedger(lifecycle.Limits{
			MaxConcurrent:   cfg.Risk.MaxConcurrent,
			DailyTradeCap:   cfg.Risk.DailyTradeCap,
			DailyLossBudget: decimal.NewFromFloat(cfg.Risk.DailyLossBudget),
			Cooldown:        cfg.Risk.Cooldown.Duration,
		})
		oracle := lifecycle.NewHTTPOracle(cfg.Oracle.URL, cfg.Oracle.Token, cfg.Oracle.Timeout.Duration)
		if cfg.Oracle.SigningSecret != "" {
			oracle.WithSigner(&crypto.HMACAuth{Key: cfg.Oracle.SigningKey, Secret: cfg.Oracle.SigningSecret})
		}
		sys.manager = lifecycle.NewManager(lifecycle.Config{
			MaxHold:           cfg.Lifecycle.MaxHold.Duration,
			OracleTimeout:     cfg.Oracle.Timeout.Duration,
			SuperviseInterval: cfg.Lifecycle.SuperviseInterval.Duration,
			SizeTiers:         cfg.Lifecycle.SizeTiers,
			CandleLimit:       cfg.Lifecycle.CandleLimit,
			HistoryLimit:      cfg.Lifecycle.HistoryLimit,
		}, sys.hub, sys.evaluator, oracle, ledger, a.logger)

		sys.engine = strategy.NewEngine(strategy.EngineConfig{
			CandleLimit: cfg.Strategy.CandleLimit,
			Cooldown:    cfg.Strategy.Cooldown.Duration,
			Workers:     cfg.Strategy.Workers,
			Buffer:      cfg.Strategy.Buffer,
		}, sys.detectors, sys.hub, sys.manager, a.logger)

		manager := sys.manager
		wsCfg.OpenPositions = func() int { return len(manager.Positions()) }
	}

	sys.ws = ws.NewHub(a.logger, wsCfg)

	if r.trade {
		sys.events = lifecycle.NewDispatcher(cfg.Lifecycle.EventBuffer, a.logger)
		if deps.PositionStore != nil {
			sys.events.Handle("recorder", pipeline.NewPositionRecorder(deps.PositionStore, deps.AuditStore))
		}
		if deps.Kafka != nil {
			sys.events.Handle("kafka", deps.Kafka)
		}
		if deps.Notifier != nil {
			sys.events.Handle("notify", deps.Notifier)
		}
		wsHub := sys.ws
		sys.events.Handle("ws", lifecycle.EventHandlerFunc(func(_ context.Context, ev domain.PositionEvent) error {
			wsHub.OnPositionEvent(ev)
			return nil
		}))
	}
	return sys, nil
}

// newDetector builds the detector named in d.
func newDetector(d config.DetectorConfig, logger *slog.Logger) (strategy.Detector, error) {
	cfg := strategy.Config{
		Name:        d.Name,
		Instruments: d.Instruments,
		RewardRisk:  d.RewardRisk,
		Params:      d.Params,
	}
	switch d.Name {
	case "sweep_reversal":
		return strategy.NewSweepReversal(cfg, logger), nil
	case "flow_momentum":
		return strategy.NewFlowMomentum(cfg, logger), nil
	default:
		return nil, fmt.Errorf("app: unknown detector %q", d.Name)
	}
}

// startShared launches what every mode runs: the websocket fan-out, the
// cross-process mirror, the gating window sync and the persistence pipeline.
func (a *App) startShared(ctx context.Context, g *errgroup.Group, sys *system, deps *Dependencies) {
	cfg := a.cfg

	if deps.CandleStore != nil && cfg.Hub.WarmStartLimit > 0 {
		n := sys.hub.Seed(ctx, deps.CandleStore, feedInstruments(cfg), cfg.Hub.BaseTimeframe.Duration, cfg.Hub.WarmStartLimit)
		a.logger.InfoContext(ctx, "app: hub warm start", slog.Int("candles", n))
	}

	g.Go(func() error { return sys.ws.Run(ctx) })
	broadcast := hub.NewAsync(4096, sys.ws.OnUpdate)
	unsubscribe := sys.hub.Subscribe(broadcast.Notify)
	g.Go(func() error {
		defer unsubscribe()
		return broadcast.Run(ctx)
	})

	if cfg.Mirror.Enabled && deps.SignalBus != nil {
		mirror := hub.NewMirror(sys.hub, deps.SignalBus, cfg.Mirror.CatchUp, a.logger)
		g.Go(func() error { return mirror.Run(ctx) })
	}

	if deps.WindowCache != nil {
		syncer := gate.NewSyncer(deps.WindowCache, sys.windows, cfg.Gate.SyncInterval.Duration,
			cfg.Gate.SyncHorizon.Duration, a.logger)
		g.Go(func() error { return syncer.Run(ctx) })
	}

	if sys.writer != nil || sys.archiver != nil {
		cron := ""
		if sys.archiver != nil {
			cron = cfg.Pipeline.ArchiveCron
		}
		orch := pipeline.NewOrchestrator(sys.writer, sys.archiver, cron, a.logger)
		g.Go(func() error { return orch.Run(ctx) })
	}
}

// startIngest launches the upstream feeds and everything that turns their
// records into hub state.
func (a *App) startIngest(ctx context.Context, g *errgroup.Group, sys *system, deps *Dependencies) error {
	cfg := a.cfg

	if cfg.Feeds.Spot.Enabled {
		h := sys.registry.Attach("spot_feed")
		sink := candles.MultiSink{h}
		if sys.writer != nil {
			sink = append(sink, sys.writer)
		}
		agg := candles.New(candles.Config{
			Source:     "spot",
			VolumeKind: domain.VolumeProxy,
			Timeframes: config.Durations(cfg.Aggregator.Timeframes),
			MaxGapFill: cfg.Aggregator.MaxGapFill,
		}, sink, a.logger)
		spot := feed.NewSpotFeed(feed.SpotConfig{
			WS:      wsConfig("spot", cfg.Feeds.Spot),
			Source:  "spot",
			Symbols: cfg.Feeds.Spot.Symbols,
		}, h, agg, a.logger)

		g.Go(func() error {
			defer h.Detach()
			return spot.Run(ctx)
		})
		g.Go(func() error { return agg.Run(ctx, time.Second) })
	}

	if cfg.Feeds.Futures.Enabled {
		sessionStart, err := gate.ParseClock(cfg.OrderFlow.SessionStart)
		if err != nil {
			return fmt.Errorf("app: orderflow: %w", err)
		}
		h := sys.registry.Attach("futures_feed")
		bars := candles.MultiSink{h}
		if sys.writer != nil {
			bars = append(bars, sys.writer)
		}
		flow := orderflow.New(orderflow.Config{
			Source:           "futures",
			Depth:            cfg.OrderFlow.Depth,
			ImbalanceLevels:  cfg.OrderFlow.ImbalanceLevels,
			DeltaWindow:      cfg.OrderFlow.DeltaWindow.Duration,
			SnapshotInterval: cfg.OrderFlow.SnapshotInterval.Duration,
			BarTimeframe:     cfg.OrderFlow.BarTimeframe.Duration,
			SessionStart:     sessionStart,
			Sweep: orderflow.SweepConfig{
				Lookback:  cfg.OrderFlow.SweepLookback,
				MinTicks:  cfg.OrderFlow.SweepMinTicks,
				TickSize:  cfg.OrderFlow.TickSize,
				TickSizes: cfg.OrderFlow.TickSizes,
			},
		}, h, bars, a.logger)
		futures := feed.NewFuturesFeed(feed.FuturesConfig{
			WS:      wsConfig("futures", cfg.Feeds.Futures),
			Source:  "futures",
			Symbols: cfg.Feeds.Futures.Symbols,
			Mapper: symbols.Config{
				PendingLimit:   cfg.Symbols.PendingLimit,
				PendingTimeout: cfg.Symbols.PendingTimeout.Duration,
			},
			SweepInterval: cfg.Symbols.SweepInterval.Duration,
		}, flow, h, a.logger)

		g.Go(func() error { return flow.Run(ctx) })
		g.Go(func() error {
			defer h.Detach()
			return futures.Run(ctx)
		})
	}

	if cfg.Calendar.Enabled {
		poller := feed.NewCalendarPoller(feed.CalendarConfig{
			URL:         cfg.Calendar.URL,
			Token:       cfg.Calendar.Token,
			Interval:    cfg.Calendar.Interval.Duration,
			Pre:         cfg.Calendar.Pre.Duration,
			Post:        cfg.Calendar.Post.Duration,
			MinSeverity: cfg.Calendar.MinSeverity,
			Timeout:     cfg.Calendar.Timeout.Duration,
		}, sys.windows, deps.WindowCache, a.logger)
		g.Go(func() error { return poller.Run(ctx) })
	}

	if deps.TickCache != nil {
		ticks := hub.NewAsync(4096, func(ctx context.Context, u hub.Update) {
			if err := deps.TickCache.SetTick(ctx, *u.Tick); err != nil {
				a.logger.DebugContext(ctx, "app: tick cache write failed", slog.String("error", err.Error()))
			}
		})
		unsubscribe := sys.hub.Subscribe(func(u hub.Update) {
			if u.Kind == hub.KindTick && u.Origin == "" {
				ticks.Notify(u)
			}
		})
		g.Go(func() error {
			defer unsubscribe()
			return ticks.Run(ctx)
		})
	}
	return nil
}

// startTrade launches the event dispatcher, the position supervisor and,
// under the deployment-wide leader lock, the detection engine.
//
// The supervisor runs for the life of the process: positions held here keep
// their stop, target, max-hold and emergency checks when the lock is lost or
// Redis is unreachable. Leadership gates new entries only.
func (a *App) startTrade(ctx context.Context, g *errgroup.Group, sys *system, lead leader, store domain.PositionStore) {
	g.Go(func() error { return sys.events.Run(ctx) })
	unsubEvents := sys.manager.Subscribe(sys.events.Enqueue)
	unsubEngine := sys.hub.Subscribe(sys.engine.OnUpdate)

	g.Go(func() error {
		defer unsubEvents()
		return sys.manager.Run(ctx)
	})

	g.Go(func() error {
		defer unsubEngine()
		for {
			err := lead.Lead(ctx, leaderKey, a.cfg.Lifecycle.LeaderLockTTL.Duration, a.logger,
				func(ctx context.Context) error {
					a.resyncPositions(ctx, sys, store)
					return sys.engine.Run(ctx)
				})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.WarnContext(ctx, "app: trading leadership ended, campaigning again",
				slog.Any("error", err),
				slog.Int("supervised", len(sys.manager.Positions())),
			)
		}
	})
}

// resyncPositions reconciles the manager with the position store each time
// leadership is acquired: positions another leader opened are adopted and
// ones it closed are retired.
func (a *App) resyncPositions(ctx context.Context, sys *system, store domain.PositionStore) {
	if store == nil {
		return
	}
	res, err := sys.manager.Resync(ctx, store)
	if err != nil {
		a.logger.WarnContext(ctx, "app: position resync failed", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "app: positions resynced",
		slog.Int("restored", res.Restored),
		slog.Int("retired", res.Retired),
		slog.Int("open", res.Open),
	)
}

// startHTTPServer builds the handlers for whatever the mode runs and starts
// the API server.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, sys *system, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		MetricsPath: a.cfg.Server.MetricsPath,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, a.handlers(sys, deps), sys.ws, deps.RateLimiter, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) handlers(sys *system, deps *Dependencies) server.Handlers {
	health := handler.NewHealthHandler(a.logger)
	if deps.Redis != nil {
		health.WithCheck("redis", deps.Redis.Ping)
	}
	if deps.Postgres != nil {
		health.WithCheck("postgres", deps.Postgres.Ping)
	}
	if deps.S3 != nil {
		health.WithCheck("s3", deps.S3.Health)
	}

	h := server.Handlers{
		Health: health,
		Status: handler.NewStatusHandler(a.cfg.Mode, a.startedAt, sys.registry.Clients),
		Market: handler.NewMarketHandler(sys.hub, a.cfg.Hub.BaseTimeframe.Duration, a.logger),
		Gate:   handler.NewGateHandler(sys.evaluator, a.logger),
	}

	var (
		live handler.LivePositions
		risk handler.RiskReader
	)
	if sys.manager != nil {
		live = sys.manager
		risk = sys.manager.Ledger()
	}
	if live != nil || deps.PositionStore != nil {
		h.Positions = handler.NewPositionHandler(live, risk, deps.PositionStore, a.logger)
	}
	if sys.detectors != nil {
		h.Strategy = handler.NewStrategyHandler(sys.detectors, sys.engine, a.logger)
	}

	var trigger handler.ArchiveTrigger
	if sys.archiver != nil {
		trigger = sys.archiver
	}
	if trigger != nil || deps.BlobReader != nil {
		h.Pipeline = handler.NewPipelineHandler(trigger, deps.BlobReader, a.logger)
	}
	return h
}

// wsConfig maps a feed section onto the reconnecting websocket client.
func wsConfig(name string, f config.FeedConfig) wsconn.Config {
	c := wsconn.Config{
		Name:         name,
		URL:          f.URL,
		ReconnectMin: f.ReconnectMin.Duration,
		ReconnectMax: f.ReconnectMax.Duration,
	}
	if f.Token != "" {
		c.Header = http.Header{"Authorization": []string{"Bearer " + f.Token}}
	}
	return c
}

// feedInstruments lists every configured instrument, for the warm start.
// Disabled feeds still count: a trade process reads what another process
// ingests.
func feedInstruments(cfg *config.Config) []string {
	out := slices.Concat(cfg.Feeds.Spot.Symbols, cfg.Feeds.Futures.Symbols)
	slices.Sort(out)
	return slices.Compact(out)
}
