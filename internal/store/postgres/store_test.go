package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/scalp?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "scalp", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/scalp?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "scalp", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}

func TestFilter_SQL(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var f filter
	f.add("status = $%d", "closed")
	f.window("exit_time", &since, nil)

	got := f.sql("exit_time DESC", 50, 10)
	assert.Equal(t, " WHERE status = $1 AND exit_time >= $2 ORDER BY exit_time DESC LIMIT $3 OFFSET $4", got)
	assert.Equal(t, []any{"closed", since, 50, 10}, f.args)

	var empty filter
	assert.Equal(t, " ORDER BY id", empty.sql("id", 0, 0))
	assert.Empty(t, empty.args)
}

// testClient connects to SCALP_TEST_POSTGRES_DSN and applies migrations.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("SCALP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCALP_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	// A second run is a no-op.
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func bar(inst, source string, start time.Time, px float64) domain.Candle {
	return domain.Candle{
		Instrument: inst, Timeframe: time.Minute, Start: start,
		Open: px, High: px + 0.0002, Low: px - 0.0001, Close: px, Volume: 12,
		Source: source, VolumeKind: domain.VolumeProxy, Ticks: 12,
	}
}

func TestCandleStore_UpsertAndLoadRecent(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewCandleStore(c.Pool())
	inst := "T" + uuid.NewString()[:8]
	base := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)

	var batch []domain.Candle
	for i := range 5 {
		batch = append(batch, bar(inst, "spot", base.Add(time.Duration(i)*time.Minute), 1.1+float64(i)/1e4))
	}
	batch = append(batch, bar(inst, "futures", base.Add(4*time.Minute), 1.2))
	require.NoError(t, s.UpsertBatch(ctx, batch))

	// Re-upserting a bucket overwrites it.
	fixed := bar(inst, "spot", base.Add(4*time.Minute), 1.5)
	fixed.Filled = true
	require.NoError(t, s.UpsertBatch(ctx, []domain.Candle{fixed}))

	got, err := s.LoadRecentCandles(ctx, inst, time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Start.Equal(base.Add(3*time.Minute)))
	assert.Equal(t, "futures", got[1].Source)
	assert.Equal(t, "spot", got[2].Source)
	assert.Equal(t, 1.5, got[2].Close)
	assert.True(t, got[2].Filled)
	assert.Equal(t, time.Minute, got[2].Timeframe)

	none, err := s.LoadRecentCandles(ctx, inst, 5*time.Minute, 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func openPosition(id string, entry time.Time) domain.PositionRecord {
	return domain.PositionRecord{
		ID: id, Instrument: "EURUSD", Direction: domain.Long,
		EntryPrice: 1.1000, EntryTime: entry, Stop: 1.0990, Target: 1.1020,
		Size: 2, SizeTier: 2, Confidence: 0.8, Setup: "sweep_reversal",
		Status: domain.PositionStatusOpen, RealizedPnL: decimal.Zero,
	}
}

func closed(p domain.PositionRecord, reason domain.CloseReason, exit float64, at time.Time) domain.PositionRecord {
	p.Status = domain.PositionStatusClosed
	p.CloseReason = reason
	p.ExitPrice = exit
	p.ExitTime = &at
	p.RealizedPnL = p.PnLAt(exit)
	return p
}

func TestPositionStore_Lifecycle(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewPositionStore(c.Pool())
	entry := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)
	p := openPosition(uuid.NewString(), entry)

	require.NoError(t, s.Create(ctx, p))
	assert.ErrorIs(t, s.Create(ctx, p), domain.ErrAlreadyExists)

	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Nil(t, got.ExitTime)

	done := closed(p, domain.CloseStop, 1.0990, entry.Add(90*time.Second))
	require.NoError(t, s.Close(ctx, done))
	assert.ErrorIs(t, s.Close(ctx, done), domain.ErrAlreadyClosed)

	got, err = s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.CloseStop, got.CloseReason)
	require.NotNil(t, got.ExitTime)
	assert.True(t, got.ExitTime.Equal(entry.Add(90*time.Second)))
	assert.True(t, got.RealizedPnL.Equal(decimal.RequireFromString("-0.002")), got.RealizedPnL.String())

	_, err = s.GetByID(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStore_CloseWithoutOpenInserts(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewPositionStore(c.Pool())
	entry := time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC)
	p := closed(openPosition(uuid.NewString(), entry), domain.CloseTarget, 1.1020, entry.Add(time.Minute))

	require.NoError(t, s.Close(ctx, p))
	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CloseTarget, got.CloseReason)
	assert.Equal(t, "sweep_reversal", got.Setup)
}

func TestPositionStore_ArchiveQueries(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewPositionStore(c.Pool())
	old := time.Date(2001, 1, 2, 10, 0, 0, 0, time.UTC)

	a := closed(openPosition(uuid.NewString(), old), domain.CloseTimeout, 1.1, old.Add(time.Minute))
	b := closed(openPosition(uuid.NewString(), old), domain.CloseManual, 1.1, old.Add(2*time.Minute))
	stillOpen := openPosition(uuid.NewString(), old)
	require.NoError(t, s.Close(ctx, a))
	require.NoError(t, s.Close(ctx, b))
	require.NoError(t, s.Create(ctx, stillOpen))
	t.Cleanup(func() {
		_, _ = c.Pool().Exec(context.Background(), `DELETE FROM positions WHERE id = $1`, stillOpen.ID)
	})

	cutoff := old.Add(90 * time.Second)
	page, err := s.ListClosedBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(page))
	for _, p := range page {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, a.ID)
	assert.NotContains(t, ids, b.ID)
	assert.NotContains(t, ids, stillOpen.ID)

	n, err := s.DeleteClosedBefore(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
	_, err = s.GetByID(ctx, stillOpen.ID)
	assert.NoError(t, err)
}

func TestAuditStore_LogAndList(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewAuditStore(c.Pool())
	marker := uuid.NewString()

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.Log(ctx, "position_opened", map[string]any{"position_id": marker, "size": 2}))
	require.NoError(t, s.Log(ctx, "position_closed", map[string]any{"position_id": marker}))

	entries, err := s.List(ctx, domain.ListOpts{Limit: 2, Since: &before})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "position_closed", entries[0].Event)
	assert.Equal(t, marker, entries[1].Detail["position_id"])
	assert.EqualValues(t, 2, entries[1].Detail["size"])
}
