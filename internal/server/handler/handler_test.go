package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
	"github.com/alanyoungcy/scalpcore/internal/hub"
	"github.com/alanyoungcy/scalpcore/internal/lifecycle"
)

var now = time.Date(2024, 3, 12, 12, 25, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testHub() *hub.Hub {
	h := hub.NewRegistry(hub.DefaultConfig(), discard()).Locate()
	h.SetClock(func() time.Time { return now })
	return h
}

func get(t *testing.T, fn http.HandlerFunc, target string, pathValues ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestMarketHandler_GetTick(t *testing.T) {
	h := testHub()
	require.True(t, h.PushTick(domain.Tick{Instrument: "EURUSD", Time: now.Add(-time.Second), Bid: 1.1000, Ask: 1.1001}))
	require.True(t, h.PushTick(domain.Tick{Instrument: "EURUSD", Time: now, Bid: 1.1002, Ask: 1.1003}))
	mh := NewMarketHandler(h, time.Minute, discard())

	rec := get(t, mh.GetTick, "/api/ticks/EURUSD?recent=5", "instrument", "EURUSD")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[tickResponse](t, rec)
	assert.Equal(t, 1.1002, body.Tick.Bid)
	assert.False(t, body.Stale)
	assert.Len(t, body.Recent, 2)
}

func TestMarketHandler_UnknownInstrument(t *testing.T) {
	mh := NewMarketHandler(testHub(), time.Minute, discard())

	assert.Equal(t, http.StatusNotFound, get(t, mh.GetTick, "/api/ticks/XAUUSD", "instrument", "XAUUSD").Code)
	assert.Equal(t, http.StatusNotFound, get(t, mh.GetOrderFlow, "/api/orderflow/XAUUSD", "instrument", "XAUUSD").Code)

	rec := get(t, mh.GetCandles, "/api/candles/XAUUSD", "instrument", "XAUUSD")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decode[map[string]json.RawMessage](t, rec)["candles"]))
}

func TestMarketHandler_GetCandles(t *testing.T) {
	h := testHub()
	for i := range 3 {
		start := now.Add(time.Duration(i-3) * time.Minute)
		require.True(t, h.PushCandle(domain.Candle{
			Instrument: "EURUSD", Timeframe: time.Minute, Start: start,
			Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1, Volume: 4,
			Source: "spot", VolumeKind: domain.VolumeProxy,
		}))
	}
	mh := NewMarketHandler(h, time.Minute, discard())

	rec := get(t, mh.GetCandles, "/api/candles/EURUSD?source=spot&limit=2", "instrument", "EURUSD")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[hub.CandleView](t, rec)
	require.Len(t, view.Candles, 2)
	assert.Equal(t, "spot", view.Source)
	assert.Equal(t, domain.VolumeProxy, view.VolumeKind)
	assert.True(t, view.Candles[1].Start.Equal(now.Add(-time.Minute)))

	merged := decode[hub.CandleView](t, get(t, mh.GetCandles, "/api/candles/EURUSD", "instrument", "EURUSD"))
	assert.Equal(t, "spot", merged.Source)
	assert.Len(t, merged.Candles, 3)

	bad := get(t, mh.GetCandles, "/api/candles/EURUSD?timeframe=soon", "instrument", "EURUSD")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestMarketHandler_ListInstruments(t *testing.T) {
	h := testHub()
	require.True(t, h.PushTick(domain.Tick{Instrument: "GBPUSD", Time: now, Bid: 1.27, Ask: 1.2701}))
	mh := NewMarketHandler(h, time.Minute, discard())

	body := decode[map[string][]string](t, get(t, mh.ListInstruments, "/api/instruments"))
	assert.Equal(t, []string{"GBPUSD"}, body["instruments"])
}

func TestGateHandler_GetGate(t *testing.T) {
	h := testHub()
	require.True(t, h.PushTick(domain.Tick{Instrument: "EURUSD", Time: now, Bid: 1.1, Ask: 1.1001}))

	windows := gate.NewWindowIndex()
	require.NoError(t, windows.Add(domain.GatingWindow{
		ID: "cpi", Scope: "EURUSD", Reason: "US CPI", Severity: 3,
		Start: now.Add(-5 * time.Minute), End: now.Add(10 * time.Minute),
	}))
	require.NoError(t, windows.Add(domain.GatingWindow{
		ID: "fomc", Scope: domain.ScopeAll, Reason: "FOMC", Severity: 3,
		Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour),
	}))
	gh := NewGateHandler(gate.NewEvaluator(gate.Config{}, windows, h), discard())
	gh.now = func() time.Time { return now }

	rec := get(t, gh.GetGate, "/api/gate/EURUSD", "instrument", "EURUSD")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[gateResponse](t, rec)
	assert.False(t, body.Result.Allowed)
	assert.Equal(t, "US CPI", body.Result.Reason)
	require.Len(t, body.Upcoming, 1)
	assert.Equal(t, "fomc", body.Upcoming[0].ID)

	short := decode[gateResponse](t, get(t, gh.GetGate, "/api/gate/EURUSD?horizon=1h", "instrument", "EURUSD"))
	assert.Empty(t, short.Upcoming)

	assert.Equal(t, http.StatusBadRequest, get(t, gh.GetGate, "/api/gate/EURUSD?horizon=x", "instrument", "EURUSD").Code)
}

type fakeLive struct{ open, closed []domain.PositionRecord }

func (f fakeLive) Positions() []domain.PositionRecord { return f.open }
func (f fakeLive) History(limit int) []domain.PositionRecord {
	if limit < len(f.closed) {
		return f.closed[:limit]
	}
	return f.closed
}

type fakeRisk struct{}

func (fakeRisk) Stats(at time.Time) lifecycle.LedgerStats {
	return lifecycle.LedgerStats{Day: at.Truncate(24 * time.Hour), Open: 1, TradesToday: 3, PnLToday: decimal.RequireFromString("-0.0004")}
}

type fakeStore struct {
	domain.PositionStore
	opts domain.ListOpts
	byID map[string]domain.PositionRecord
	err  error
}

func (f *fakeStore) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	f.opts = opts
	return nil, f.err
}

func (f *fakeStore) GetByID(_ context.Context, id string) (domain.PositionRecord, error) {
	p, ok := f.byID[id]
	if !ok {
		return domain.PositionRecord{}, domain.ErrNotFound
	}
	return p, nil
}

func TestPositionHandler_ListPositionsFromManager(t *testing.T) {
	live := fakeLive{open: []domain.PositionRecord{{ID: "p1", Instrument: "EURUSD", Direction: domain.Long, Status: domain.PositionStatusOpen}}}
	ph := NewPositionHandler(live, fakeRisk{}, nil, discard())
	ph.now = func() time.Time { return now }

	rec := get(t, ph.ListPositions, "/api/positions")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[listPositionsResponse](t, rec)
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "p1", body.Positions[0].ID)
	require.NotNil(t, body.Risk)
	assert.Equal(t, 3, body.Risk.TradesToday)
	assert.True(t, body.Risk.PnLToday.Equal(decimal.RequireFromString("-0.0004")))
}

func TestPositionHandler_HistoryFromStore(t *testing.T) {
	store := &fakeStore{}
	ph := NewPositionHandler(nil, nil, store, discard())

	rec := get(t, ph.ListHistory, "/api/positions/history?limit=10&offset=5&since=2024-03-11T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"positions":[]}`, rec.Body.String())
	assert.Equal(t, 10, store.opts.Limit)
	assert.Equal(t, 5, store.opts.Offset)
	require.NotNil(t, store.opts.Since)
	assert.True(t, store.opts.Since.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, store.opts.Until)

	assert.Equal(t, http.StatusBadRequest, get(t, ph.ListHistory, "/api/positions/history?until=yesterday").Code)

	store.err = errors.New("pg down")
	assert.Equal(t, http.StatusInternalServerError, get(t, ph.ListHistory, "/api/positions/history").Code)
}

func TestPositionHandler_HistoryFallsBackToManager(t *testing.T) {
	live := fakeLive{closed: []domain.PositionRecord{{ID: "c2"}, {ID: "c1"}}}
	ph := NewPositionHandler(live, nil, nil, discard())

	body := decode[map[string][]domain.PositionRecord](t, get(t, ph.ListHistory, "/api/positions/history?limit=1"))
	require.Len(t, body["positions"], 1)
	assert.Equal(t, "c2", body["positions"][0].ID)
}

func TestPositionHandler_GetPosition(t *testing.T) {
	store := &fakeStore{byID: map[string]domain.PositionRecord{"p1": {ID: "p1", Instrument: "EURUSD"}}}
	ph := NewPositionHandler(nil, nil, store, discard())

	rec := get(t, ph.GetPosition, "/api/positions/p1", "id", "p1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EURUSD", decode[domain.PositionRecord](t, rec).Instrument)

	assert.Equal(t, http.StatusNotFound, get(t, ph.GetPosition, "/api/positions/p9", "id", "p9").Code)
}

func TestPositionHandler_NoSource(t *testing.T) {
	ph := NewPositionHandler(nil, nil, nil, discard())
	assert.Equal(t, http.StatusNotImplemented, get(t, ph.ListPositions, "/api/positions").Code)
	assert.Equal(t, http.StatusNotImplemented, get(t, ph.GetPosition, "/api/positions/x", "id", "x").Code)
}

func TestHealthHandler(t *testing.T) {
	ok := NewHealthHandler(discard()).WithCheck("redis", func(context.Context) error { return nil })
	rec := get(t, ok.HealthCheck, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	bad := NewHealthHandler(discard()).
		WithCheck("redis", func(context.Context) error { return nil }).
		WithCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec = get(t, bad.HealthCheck, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}](t, rec)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"redis": "ok", "postgres": "connection refused"}, body.Dependencies)
}

type fakeTrigger struct{ pending bool }

func (f *fakeTrigger) Trigger() bool {
	if f.pending {
		return false
	}
	f.pending = true
	return true
}

type fakeBlobs struct {
	domain.BlobReader
	prefix string
	infos  []domain.BlobInfo
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.prefix = prefix
	return f.infos, nil
}

func TestPipelineHandler_TriggerArchive(t *testing.T) {
	ph := NewPipelineHandler(&fakeTrigger{}, nil, discard())

	post := func() map[string]any {
		rec := httptest.NewRecorder()
		ph.TriggerArchive(rec, httptest.NewRequest(http.MethodPost, "/api/archive/trigger", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
		return decode[map[string]any](t, rec)
	}
	assert.Equal(t, "accepted", post()["status"])
	assert.Equal(t, "already_pending", post()["status"])
}

func TestPipelineHandler_ListArchive(t *testing.T) {
	blobs := &fakeBlobs{infos: []domain.BlobInfo{
		{Path: "archive/candles/2024/03/08/a.jsonl.gz", Size: 10},
		{Path: "archive/candles/2024/03/09/b.jsonl.gz", Size: 20},
	}}
	ph := NewPipelineHandler(nil, blobs, discard())

	rec := get(t, ph.ListArchive, "/api/archive?prefix=archive/candles/&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/candles/", blobs.prefix)
	body := decode[struct {
		Objects []archiveObject `json:"objects"`
	}](t, rec)
	require.Len(t, body.Objects, 1)
	assert.Equal(t, "archive/candles/2024/03/09/b.jsonl.gz", body.Objects[0].Path)

	disabled := NewPipelineHandler(nil, nil, discard())
	assert.Equal(t, http.StatusNotImplemented, get(t, disabled.ListArchive, "/api/archive").Code)
}

type fakeSetups []domain.Setup

func (f fakeSetups) RecentSetups(limit int) []domain.Setup { return f[:min(limit, len(f))] }

func TestStrategyHandler(t *testing.T) {
	sh := NewStrategyHandler(nil, fakeSetups{{Instrument: "EURUSD", Kind: "sweep_reversal"}}, discard())

	body := decode[map[string][]domain.Setup](t, get(t, sh.ListSetups, "/api/setups"))
	require.Len(t, body["setups"], 1)
	assert.Equal(t, "sweep_reversal", body["setups"][0].Kind)

	assert.Equal(t, http.StatusNotImplemented, get(t, sh.ListDetectors, "/api/detectors").Code)
}
