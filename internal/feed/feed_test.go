package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
	"github.com/alanyoungcy/scalpcore/internal/platform/wsconn"
)

var now = time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type tickSink struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (s *tickSink) PushTick(t domain.Tick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return true
}

type priceSink struct {
	instrument string
	price      float64
	calls      int
}

func (p *priceSink) OnPriceUpdate(instrument string, price float64, _ time.Time, _ float64) {
	p.instrument, p.price = instrument, price
	p.calls++
}

func TestSpotFeed_Handle(t *testing.T) {
	ticks, prices := &tickSink{}, &priceSink{}
	f := NewSpotFeed(SpotConfig{WS: wsconn.Config{URL: "ws://unused"}}, ticks, prices, discard())
	ctx := context.Background()

	f.Handle(ctx, []byte(`{"type":"quote","symbol":"eurusd","bid":1.1,"ask":1.10005,"ts":1710244800000}`))
	f.Handle(ctx, []byte(`{"type":"heartbeat"}`))
	f.Handle(ctx, []byte(`{"type":"quote","symbol":"EURUSD","bid":1.2,"ask":1.1,"ts":1710244800000}`))
	f.Handle(ctx, []byte(`not json`))

	require.Len(t, ticks.ticks, 1)
	tk := ticks.ticks[0]
	assert.Equal(t, "EURUSD", tk.Instrument)
	assert.Equal(t, "spot", tk.Source)
	assert.Equal(t, now, tk.Time)
	assert.InDelta(t, 0.00005, tk.Spread(), 1e-12)

	assert.Equal(t, 1, prices.calls)
	assert.InDelta(t, 1.100025, prices.price, 1e-12)

	received, rejected := f.Stats()
	assert.EqualValues(t, 2, received)
	assert.EqualValues(t, 2, rejected)
}

type fakeFlow struct {
	mu      sync.Mutex
	applied []string
	bid     float64
	ask     float64
}

func (f *fakeFlow) Apply(instrument string, ev domain.VenueEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case ev.Book != nil:
		f.applied = append(f.applied, instrument+":book")
		if ev.Book.Side == domain.SideBid {
			f.bid = ev.Book.Price
		} else {
			f.ask = ev.Book.Price
		}
	case ev.Trade != nil:
		f.applied = append(f.applied, instrument+":trade:"+string(ev.Trade.Aggressor))
	case ev.Snapshot != nil:
		f.applied = append(f.applied, instrument+":snapshot")
	}
}

func (f *fakeFlow) Quote(string) (float64, float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bid, f.ask, f.bid > 0 && f.ask > 0
}

func TestFuturesFeed_BuffersUntilMapped(t *testing.T) {
	flow, ticks := &fakeFlow{}, &tickSink{}
	f := NewFuturesFeed(FuturesConfig{WS: wsconn.Config{URL: "ws://unused"}}, flow, ticks, discard())
	ctx := context.Background()

	f.Handle(ctx, []byte(`{"type":"book","instrument_id":7,"seq":1,"side":"bid","level":0,"price":5000.25,"size":12,"ts":1710244800000}`))
	f.Handle(ctx, []byte(`{"type":"book","instrument_id":7,"seq":2,"side":"ask","level":0,"price":5000.5,"size":9,"ts":1710244800000}`))
	f.Handle(ctx, []byte(`{"type":"trade","instrument_id":7,"seq":3,"price":5000.5,"size":3,"aggressor":"buy","ts":1710244800000}`))
	assert.Empty(t, flow.applied)
	assert.Equal(t, 3, f.Mapper().Pending(7))

	f.Handle(ctx, []byte(`{"type":"mapping","continuous":"ES.c.0","raw_symbol":"ESH4","instrument_id":7}`))
	assert.Equal(t, []string{"ES.c.0:book", "ES.c.0:book", "ES.c.0:trade:buy"}, flow.applied)

	// The first book level alone has no two-sided quote.
	require.Len(t, ticks.ticks, 1)
	assert.Equal(t, domain.Tick{Instrument: "ES.c.0", Time: now, Bid: 5000.25, Ask: 5000.5, Source: "futures"}, ticks.ticks[0])

	r, ok := f.Mapper().Resolve("ES.c.0")
	require.True(t, ok)
	assert.Equal(t, "ESH4", r.RawSymbol)
}

func TestFuturesFeed_RollIgnoresExpiredContract(t *testing.T) {
	flow, ticks := &fakeFlow{}, &tickSink{}
	f := NewFuturesFeed(FuturesConfig{WS: wsconn.Config{URL: "ws://unused"}}, flow, ticks, discard())
	ctx := context.Background()

	f.Handle(ctx, []byte(`{"type":"mapping","continuous":"ES.c.0","raw_symbol":"ESH4","instrument_id":1}`))
	f.Handle(ctx, []byte(`{"type":"snapshot","instrument_id":1,"seq":1,"bids":[[5000,5]],"asks":[[5000.25,5]],"ts":1710244800000}`))
	f.Handle(ctx, []byte(`{"type":"mapping","continuous":"ES.c.0","raw_symbol":"ESM4","instrument_id":2}`))
	f.Handle(ctx, []byte(`{"type":"snapshot","instrument_id":2,"seq":1,"bids":[[5050,5]],"asks":[[5050.25,5]],"ts":1710244800000}`))

	f.Handle(ctx, []byte(`{"type":"book","instrument_id":1,"seq":2,"side":"ask","level":0,"price":5000.5,"size":3,"ts":1710244800000}`))
	f.Handle(ctx, []byte(`{"type":"trade","instrument_id":1,"seq":3,"price":5000.5,"size":100,"aggressor":"buy","ts":1710244800000}`))

	assert.Equal(t, []string{"ES.c.0:snapshot", "ES.c.0:snapshot"}, flow.applied)
	assert.Equal(t, 2, f.Mapper().Stale(1))
}

func TestFuturesFeed_RejectsMalformed(t *testing.T) {
	f := NewFuturesFeed(FuturesConfig{WS: wsconn.Config{URL: "ws://unused"}}, &fakeFlow{}, &tickSink{}, discard())
	ctx := context.Background()
	f.Handle(ctx, []byte(`{"type":"book","instrument_id":7,"side":"middle","price":1,"size":1}`))
	f.Handle(ctx, []byte(`{"type":"mapping","instrument_id":7}`))
	f.Handle(ctx, []byte(`{`))
	_, rejected := f.Stats()
	assert.EqualValues(t, 3, rejected)
}

func TestFuturesMsg_Snapshot(t *testing.T) {
	m := futuresMsg{Type: "snapshot", InstrumentID: 7, Bids: [][2]float64{{100, 5}, {99.75, 8}}, Asks: [][2]float64{{100.25, 4}}}
	ev, err := m.venueEvent(now)
	require.NoError(t, err)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, domain.BookLevel{Side: domain.SideBid, Price: 99.75, Size: 8, Rank: 1}, ev.Snapshot.Bids[1])
	assert.Len(t, ev.Snapshot.Asks, 1)
}

type memWindows struct {
	mu  sync.Mutex
	put []domain.GatingWindow
}

func (m *memWindows) PutWindow(_ context.Context, w domain.GatingWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put = append(m.put, w)
	return nil
}

func (m *memWindows) ActiveWindows(context.Context, time.Time, time.Time) ([]domain.GatingWindow, error) {
	return nil, nil
}

func (m *memWindows) PruneBefore(context.Context, time.Time) (int64, error) { return 0, nil }

const calendarJSON = `[
 {"id":"cpi","title":"US CPI","time":"2024-03-12T12:30:00Z","impact":"high","instruments":["EURUSD","ES.c.0"]},
 {"id":"speech","title":"Fed speaker","time":"2024-03-12T13:00:00Z","impact":"low"},
 {"id":"old","title":"Retail sales","time":"2024-03-12T08:00:00Z","impact":"high"},
 {"id":"fomc","title":"FOMC","time":"2024-03-12T18:00:00Z","impact":"high"}
]`

func TestCalendarPoller_PollOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(calendarJSON))
	}))
	defer srv.Close()

	index := gate.NewWindowIndex()
	cache := &memWindows{}
	p := NewCalendarPoller(CalendarConfig{
		URL: srv.URL, Token: "k", MinSeverity: 2,
		Pre: 5 * time.Minute, Post: 10 * time.Minute,
	}, index, cache, discard())
	p.now = func() time.Time { return now }

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n, "two CPI windows and one FOMC window")
	assert.Equal(t, 3, index.Len())
	assert.Len(t, cache.put, 3)

	active := index.Active("EURUSD", time.Date(2024, 3, 12, 12, 26, 0, 0, time.UTC))
	require.Len(t, active, 1)
	assert.Equal(t, "US CPI", active[0].Reason)
	assert.Empty(t, index.Active("GBPUSD", time.Date(2024, 3, 12, 12, 26, 0, 0, time.UTC)))
	assert.Len(t, index.Active("GBPUSD", time.Date(2024, 3, 12, 18, 0, 0, 0, time.UTC)), 1)
}

func TestCalendarPoller_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	index := gate.NewWindowIndex()
	p := NewCalendarPoller(CalendarConfig{URL: srv.URL}, index, nil, discard())
	_, err := p.PollOnce(context.Background())
	assert.ErrorContains(t, err, "unexpected status 502")
	assert.Zero(t, index.Len())
}
