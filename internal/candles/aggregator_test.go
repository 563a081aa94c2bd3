package candles

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	candles []domain.Candle
}

func (s *captureSink) PushCandle(c domain.Candle) bool {
	s.candles = append(s.candles, c)
	return true
}

func newTestAggregator(kind domain.VolumeKind) (*Aggregator, *captureSink) {
	sink := &captureSink{}
	agg := New(Config{Source: "spot", VolumeKind: kind, Timeframes: []time.Duration{time.Minute}}, sink,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return agg, sink
}

var t0 = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func TestAggregator_FinalizesOnBoundary(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeReal)

	agg.OnPriceUpdate("EURUSD", 1.1000, t0.Add(5*time.Second), 2)
	agg.OnPriceUpdate("EURUSD", 1.1010, t0.Add(20*time.Second), 1)
	agg.OnPriceUpdate("EURUSD", 1.0990, t0.Add(40*time.Second), 3)
	agg.OnPriceUpdate("EURUSD", 1.1005, t0.Add(59*time.Second), 1)
	require.Empty(t, sink.candles)

	agg.OnPriceUpdate("EURUSD", 1.1020, t0.Add(61*time.Second), 1)
	require.Len(t, sink.candles, 1)

	c := sink.candles[0]
	assert.Equal(t, t0, c.Start)
	assert.Equal(t, 1.1000, c.Open)
	assert.Equal(t, 1.1010, c.High)
	assert.Equal(t, 1.0990, c.Low)
	assert.Equal(t, 1.1005, c.Close)
	assert.Equal(t, 7.0, c.Volume)
	assert.Equal(t, 4, c.Ticks)
	assert.Equal(t, "spot", c.Source)
	assert.Equal(t, domain.VolumeReal, c.VolumeKind)
	assert.NoError(t, c.Validate())
}

func TestAggregator_BucketsAlignToWallClock(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeProxy)

	agg.OnPriceUpdate("X", 10, t0.Add(37*time.Second), 0)
	agg.OnPriceUpdate("X", 11, t0.Add(90*time.Second), 0)

	require.Len(t, sink.candles, 1)
	assert.Equal(t, t0, sink.candles[0].Start)
}

func TestAggregator_ProxyVolumeCountsTicks(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeProxy)

	for i := 0; i < 5; i++ {
		agg.OnPriceUpdate("X", 10, t0.Add(time.Duration(i)*time.Second), 0)
	}
	agg.Flush(t0.Add(time.Minute))

	require.Len(t, sink.candles, 1)
	assert.Equal(t, 5.0, sink.candles[0].Volume)
	assert.Equal(t, domain.VolumeProxy, sink.candles[0].VolumeKind)
}

func TestAggregator_GapFillCarriesForward(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeReal)

	agg.OnPriceUpdate("X", 10, t0.Add(10*time.Second), 1)
	agg.OnPriceUpdate("X", 12, t0.Add(20*time.Second), 1)
	agg.OnPriceUpdate("X", 13, t0.Add(3*time.Minute+5*time.Second), 1)

	require.Len(t, sink.candles, 3)
	assert.Equal(t, t0, sink.candles[0].Start)
	for i, c := range sink.candles[1:] {
		assert.Equal(t, t0.Add(time.Duration(i+1)*time.Minute), c.Start)
		assert.True(t, c.Filled)
		assert.Equal(t, 12.0, c.Open)
		assert.Equal(t, 12.0, c.High)
		assert.Equal(t, 12.0, c.Low)
		assert.Equal(t, 12.0, c.Close)
		assert.Zero(t, c.Volume)
	}
}

func TestAggregator_FlushCarriesQuietInstrument(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeReal)

	agg.OnPriceUpdate("X", 10, t0.Add(10*time.Second), 1)
	agg.Flush(t0.Add(3*time.Minute + 30*time.Second))

	require.Len(t, sink.candles, 3)
	assert.Equal(t, t0.Add(2*time.Minute), sink.candles[2].Start)
	assert.True(t, sink.candles[2].Filled)

	// The next live update continues without duplicating filled buckets.
	agg.OnPriceUpdate("X", 11, t0.Add(4*time.Minute+1*time.Second), 1)
	agg.Flush(t0.Add(5 * time.Minute))
	require.Len(t, sink.candles, 5)
	assert.Equal(t, t0.Add(3*time.Minute), sink.candles[3].Start)
	assert.Equal(t, t0.Add(4*time.Minute), sink.candles[4].Start)
	assert.False(t, sink.candles[4].Filled)
}

func TestAggregator_LateUpdateDropped(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeReal)

	agg.OnPriceUpdate("X", 10, t0.Add(70*time.Second), 1)
	agg.OnPriceUpdate("X", 99, t0.Add(10*time.Second), 1)
	agg.Flush(t0.Add(2 * time.Minute))

	require.Len(t, sink.candles, 1)
	assert.Equal(t, 10.0, sink.candles[0].High)
}

func TestAggregator_CandlesAlwaysValid(t *testing.T) {
	agg, sink := newTestAggregator(domain.VolumeProxy)
	prices := []float64{5, 7, 3, 9, 2, 8, 8, 1, 6, 4}
	for i, p := range prices {
		agg.OnPriceUpdate("X", p, t0.Add(time.Duration(i)*25*time.Second), 0)
	}
	agg.Flush(t0.Add(10 * time.Minute))

	require.NotEmpty(t, sink.candles)
	for _, c := range sink.candles {
		assert.NoError(t, c.Validate())
	}
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	ms := MultiSink{a, b}
	assert.True(t, ms.PushCandle(domain.Candle{Instrument: "X"}))
	assert.Len(t, a.candles, 1)
	assert.Len(t, b.candles, 1)
}
