package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
	"github.com/alanyoungcy/scalpcore/internal/hub"
)

type fakeMarket struct {
	mu    sync.Mutex
	ticks map[string]hub.TickView
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{ticks: make(map[string]hub.TickView)}
}

func (f *fakeMarket) setTick(inst string, bid, ask float64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks[inst] = hub.TickView{Tick: domain.Tick{Instrument: inst, Time: ts, Bid: bid, Ask: ask}}
}

func (f *fakeMarket) clear(inst string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ticks, inst)
}

func (f *fakeMarket) LatestTick(inst string) (hub.TickView, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.ticks[inst]
	return v, ok
}

func (f *fakeMarket) LatestCandles(inst, source string, limit int) hub.CandleView {
	return hub.CandleView{Instrument: inst, Source: source}
}

func (f *fakeMarket) LatestOrderFlow(string) (hub.FlowView, bool) {
	return hub.FlowView{}, false
}

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Decide(ctx context.Context, snap Snapshot) (Verdict, error) {
	args := m.Called(ctx, snap)
	return args.Get(0).(Verdict), args.Error(1)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	m       *Manager
	market  *fakeMarket
	windows *gate.WindowIndex
	clock   *testClock

	mu     sync.Mutex
	events []domain.PositionEvent
}

func (f *fixture) recorded() []domain.PositionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PositionEvent(nil), f.events...)
}

func newFixture(t *testing.T, oracle DecisionOracle, limits Limits) *fixture {
	t.Helper()
	f := &fixture{
		market:  newFakeMarket(),
		windows: gate.NewWindowIndex(),
		clock:   &testClock{t: t0},
	}
	ev := gate.NewEvaluator(gate.Config{}, f.windows, f.market)
	f.m = NewManager(Config{
		MaxHold:       5 * time.Minute,
		OracleTimeout: 50 * time.Millisecond,
		SizeTiers:     []float64{1, 2, 5},
	}, f.market, ev, oracle, NewRiskLedger(limits), slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.m.SetClock(f.clock.now)
	f.m.Subscribe(func(e domain.PositionEvent) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})
	f.market.setTick("EURUSD", 1.1000, 1.1001, t0)
	return f
}

func longSetup() domain.Setup {
	return domain.Setup{
		Instrument: "EURUSD",
		Kind:       "sweep_reversal",
		Direction:  domain.Long,
		Price:      1.1000,
		Stop:       1.0990,
		Target:     1.1020,
		Confidence: 0.6,
		DetectedAt: t0,
	}
}

func approve(tier int) *mockOracle {
	o := &mockOracle{}
	o.On("Decide", mock.Anything, mock.Anything).Return(Verdict{Approved: true, SizeTier: tier, Confidence: 0.8}, nil)
	return o
}

func TestManager_ProposeApprovedOpensAtLiveQuote(t *testing.T) {
	oracle := approve(2)
	f := newFixture(t, oracle, Limits{})

	pos, err := f.m.Propose(context.Background(), longSetup())
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.Long, pos.Direction)
	assert.InDelta(t, 1.1001, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1.0991, pos.Stop, 1e-9)
	assert.InDelta(t, 1.1021, pos.Target, 1e-9)
	assert.Equal(t, 2, pos.SizeTier)
	assert.Equal(t, 2.0, pos.Size)
	assert.Equal(t, 0.8, pos.Confidence)
	assert.Equal(t, t0, pos.EntryTime)
	assert.Equal(t, StateOpen, f.m.State("EURUSD"))

	stats := f.m.Ledger().Stats(t0)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.TradesToday)
	assert.Zero(t, stats.Reserved)

	events := f.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, domain.PositionOpened, events[0].Type)

	oracle.AssertExpectations(t)
}

func TestManager_SnapshotCarriesGateAndTick(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Decide", mock.Anything, mock.MatchedBy(func(s Snapshot) bool {
		return s.Gate.Allowed && s.Tick.Tick.Bid == 1.1000 && s.Setup.Kind == "sweep_reversal"
	})).Return(Verdict{Approved: false, Reason: "no edge"}, nil).Once()
	f := newFixture(t, oracle, Limits{})

	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrRejected)
	oracle.AssertExpectations(t)
}

func TestManager_RejectReleasesReservation(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Decide", mock.Anything, mock.Anything).Return(Verdict{Approved: false}, nil)
	f := newFixture(t, oracle, Limits{MaxConcurrent: 1})

	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.Equal(t, StateIdle, f.m.State("EURUSD"))
	assert.Zero(t, f.m.Ledger().Stats(t0).Reserved)
	assert.Empty(t, f.recorded())
}

func TestManager_OracleTimeoutIsReject(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Decide", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(Verdict{}, context.DeadlineExceeded)
	f := newFixture(t, oracle, Limits{})

	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrOracleTimeout)
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.Equal(t, StateIdle, f.m.State("EURUSD"))
	assert.Zero(t, f.m.Ledger().Stats(t0).Reserved)
}

func TestManager_OracleIgnoringDeadlineStillTimesOut(t *testing.T) {
	slow := OracleFunc(func(context.Context, Snapshot) (Verdict, error) {
		time.Sleep(300 * time.Millisecond)
		return Verdict{Approved: true}, nil
	})
	f := newFixture(t, slow, Limits{})

	start := time.Now()
	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrOracleTimeout)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, StateIdle, f.m.State("EURUSD"))
}

func TestManager_OracleErrorIsReject(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Decide", mock.Anything, mock.Anything).Return(Verdict{}, errors.New("connection refused"))
	f := newFixture(t, oracle, Limits{})

	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.Equal(t, StateIdle, f.m.State("EURUSD"))
}

func TestManager_GateClosedSkipsOracle(t *testing.T) {
	oracle := &mockOracle{}
	f := newFixture(t, oracle, Limits{})
	require.NoError(t, f.windows.Add(domain.GatingWindow{
		ID: "nfp", Scope: "EURUSD", Start: t0.Add(-time.Minute), End: t0.Add(10 * time.Minute), Reason: "high-impact-event",
	}))

	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrGateClosed)
	assert.Contains(t, err.Error(), "high-impact-event")
	oracle.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
	assert.Zero(t, f.m.Ledger().Stats(t0).Reserved)
}

func TestManager_MissingTickFailsClosed(t *testing.T) {
	oracle := &mockOracle{}
	f := newFixture(t, oracle, Limits{})
	f.market.clear("EURUSD")

	_, err := f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrGateClosed)
	oracle.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
}

func TestManager_SlotBusyAndConcurrencyLimit(t *testing.T) {
	f := newFixture(t, approve(1), Limits{MaxConcurrent: 1})
	_, err := f.m.Propose(context.Background(), longSetup())
	require.NoError(t, err)

	_, err = f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrSlotBusy)

	other := longSetup()
	other.Instrument = "GBPUSD"
	f.market.setTick("GBPUSD", 1.2700, 1.2701, t0)
	_, err = f.m.Propose(context.Background(), other)
	assert.ErrorIs(t, err, domain.ErrLimitReached)
	assert.Equal(t, StateIdle, f.m.State("GBPUSD"))
}

func TestManager_ForcedCloseWithFrozenFeed(t *testing.T) {
	f := newFixture(t, approve(1), Limits{})
	pos, err := f.m.Propose(context.Background(), longSetup())
	require.NoError(t, err)

	// Feed dies; only the clock moves.
	f.market.clear("EURUSD")
	f.clock.advance(4 * time.Minute)
	assert.Zero(t, f.m.Supervise(context.Background(), f.clock.now()))
	assert.Equal(t, StateOpen, f.m.State("EURUSD"))

	f.clock.advance(time.Minute + time.Second)
	assert.Equal(t, 1, f.m.Supervise(context.Background(), f.clock.now()))

	assert.Equal(t, StateIdle, f.m.State("EURUSD"))
	hist := f.m.History(10)
	require.Len(t, hist, 1)
	assert.Equal(t, pos.ID, hist[0].ID)
	assert.Equal(t, domain.PositionStatusClosed, hist[0].Status)
	assert.Equal(t, domain.CloseTimeout, hist[0].CloseReason)
	assert.Equal(t, pos.EntryPrice, hist[0].ExitPrice)
	assert.True(t, hist[0].RealizedPnL.IsZero())
	assert.Zero(t, f.m.Ledger().Stats(f.clock.now()).Open)

	events := f.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, domain.PositionClosed, events[1].Type)
}

func TestManager_StopLossStartsCooldown(t *testing.T) {
	f := newFixture(t, approve(1), Limits{Cooldown: 10 * time.Minute})
	_, err := f.m.Propose(context.Background(), longSetup())
	require.NoError(t, err)

	f.clock.advance(30 * time.Second)
	f.market.setTick("EURUSD", 1.0990, 1.0991, f.clock.now())
	assert.Equal(t, 1, f.m.Supervise(context.Background(), f.clock.now()))

	hist := f.m.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.CloseStop, hist[0].CloseReason)
	assert.InDelta(t, 1.0990, hist[0].ExitPrice, 1e-9)
	assert.True(t, hist[0].RealizedPnL.IsNegative())

	f.market.setTick("EURUSD", 1.1000, 1.1001, f.clock.now())
	_, err = f.m.Propose(context.Background(), longSetup())
	assert.ErrorIs(t, err, domain.ErrCooldown)
}

func TestManager_ShortTakesProfit(t *testing.T) {
	f := newFixture(t, approve(1), Limits{})
	setup := domain.Setup{Instrument: "EURUSD", Kind: "flow_momentum", Direction: domain.Short, Price: 1.1000, Stop: 1.1010, Target: 1.0980}
	pos, err := f.m.Propose(context.Background(), setup)
	require.NoError(t, err)
	assert.InDelta(t, 1.1000, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1.1010, pos.Stop, 1e-9)
	assert.InDelta(t, 1.0980, pos.Target, 1e-9)

	f.market.setTick("EURUSD", 1.0981, 1.0982, t0.Add(time.Minute))
	assert.Zero(t, f.m.Supervise(context.Background(), t0.Add(time.Minute)), "ask above target")

	f.market.setTick("EURUSD", 1.0977, 1.0978, t0.Add(2*time.Minute))
	assert.Equal(t, 1, f.m.Supervise(context.Background(), t0.Add(2*time.Minute)))

	hist := f.m.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.CloseTarget, hist[0].CloseReason)
	assert.True(t, hist[0].RealizedPnL.IsPositive())
}

func TestManager_EmergencyWindowClosesPosition(t *testing.T) {
	f := newFixture(t, approve(1), Limits{})
	_, err := f.m.Propose(context.Background(), longSetup())
	require.NoError(t, err)

	require.NoError(t, f.windows.Add(domain.GatingWindow{
		ID: "fomc", Scope: domain.ScopeAll, Start: t0.Add(time.Minute), End: t0.Add(30 * time.Minute), Reason: "fomc", Severity: 5,
	}))
	assert.Zero(t, f.m.Supervise(context.Background(), t0.Add(30*time.Second)))
	assert.Equal(t, 1, f.m.Supervise(context.Background(), t0.Add(90*time.Second)))
	assert.Equal(t, domain.CloseEmergency, f.m.History(1)[0].CloseReason)
}

func TestManager_ClosePositionExactlyOnce(t *testing.T) {
	f := newFixture(t, approve(1), Limits{})
	pos, err := f.m.Propose(context.Background(), longSetup())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, already := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.ClosePosition(context.Background(), pos.ID, domain.CloseManual)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrAlreadyClosed):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 15, already)
	assert.Len(t, f.recorded(), 2)
	assert.Zero(t, f.m.Ledger().Stats(t0).Open)

	_, err = f.m.ClosePosition(context.Background(), "missing", domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_Restore(t *testing.T) {
	f := newFixture(t, approve(1), Limits{MaxConcurrent: 1})
	n := f.m.Restore([]domain.PositionRecord{
		{ID: "p1", Instrument: "EURUSD", Direction: domain.Long, EntryPrice: 1.1, EntryTime: t0, Stop: 1.09, Target: 1.12, Size: 1, Status: domain.PositionStatusOpen},
		{ID: "p0", Instrument: "GBPUSD", Status: domain.PositionStatusClosed},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, StateOpen, f.m.State("EURUSD"))
	require.Len(t, f.m.Positions(), 1)

	other := longSetup()
	other.Instrument = "GBPUSD"
	f.market.setTick("GBPUSD", 1.27, 1.2701, t0)
	_, err := f.m.Propose(context.Background(), other)
	assert.ErrorIs(t, err, domain.ErrLimitReached)
}

type memPositions struct {
	byID map[string]domain.PositionRecord
}

func newMemPositions(recs ...domain.PositionRecord) *memPositions {
	s := &memPositions{byID: make(map[string]domain.PositionRecord)}
	for _, r := range recs {
		s.byID[r.ID] = r
	}
	return s
}

func (s *memPositions) Create(_ context.Context, p domain.PositionRecord) error {
	s.byID[p.ID] = p
	return nil
}

func (s *memPositions) Close(_ context.Context, p domain.PositionRecord) error {
	s.byID[p.ID] = p
	return nil
}

func (s *memPositions) GetByID(_ context.Context, id string) (domain.PositionRecord, error) {
	p, ok := s.byID[id]
	if !ok {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositions) GetOpen(context.Context) ([]domain.PositionRecord, error) {
	var out []domain.PositionRecord
	for _, p := range s.byID {
		if p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListHistory(context.Context, domain.ListOpts) ([]domain.PositionRecord, error) {
	return nil, nil
}

func openRecord(id, instrument string) domain.PositionRecord {
	return domain.PositionRecord{
		ID: id, Instrument: instrument, Direction: domain.Long,
		EntryPrice: 1.1, EntryTime: t0, Stop: 1.09, Target: 1.12, Size: 1,
		Status: domain.PositionStatusOpen,
	}
}

func TestManager_ResyncRetiresPositionsClosedElsewhere(t *testing.T) {
	f := newFixture(t, approve(1), Limits{MaxConcurrent: 3})
	f.m.Restore([]domain.PositionRecord{
		openRecord("p1", "EURUSD"),
		openRecord("p2", "GBPUSD"),
	})

	exit := t0.Add(time.Minute)
	closedElsewhere := openRecord("p1", "EURUSD")
	closedElsewhere.Status = domain.PositionStatusClosed
	closedElsewhere.CloseReason = domain.CloseTimeout
	closedElsewhere.ExitTime = &exit
	closedElsewhere.RealizedPnL = decimal.NewFromInt(-5)
	// p2 has not reached the store yet and must survive.
	store := newMemPositions(closedElsewhere, openRecord("p3", "USDJPY"))

	res, err := f.m.Resync(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, ResyncResult{Restored: 1, Retired: 1, Open: 2}, res)

	assert.Equal(t, StateIdle, f.m.State("EURUSD"))
	assert.Equal(t, StateOpen, f.m.State("GBPUSD"))
	assert.Equal(t, StateOpen, f.m.State("USDJPY"))
	require.Len(t, f.m.History(0), 1)
	assert.Equal(t, domain.CloseTimeout, f.m.History(0)[0].CloseReason)
	assert.Empty(t, f.recorded(), "a position closed elsewhere emits no close event here")

	stats := f.m.Ledger().Stats(t0.Add(2 * time.Minute))
	assert.Equal(t, 2, stats.Open)
	assert.True(t, stats.PnLToday.Equal(decimal.NewFromInt(-5)))

	_, err = f.m.ClosePosition(context.Background(), "p1", domain.CloseManual)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
}

func TestManager_ResyncIsIdempotent(t *testing.T) {
	f := newFixture(t, approve(1), Limits{})
	store := newMemPositions(openRecord("p1", "EURUSD"))

	for range 3 {
		res, err := f.m.Resync(context.Background(), store)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Open)
	}
	assert.Len(t, f.m.Positions(), 1)
	assert.Equal(t, 1, f.m.Ledger().Stats(t0).Open)
}
