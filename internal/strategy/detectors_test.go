package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/hub"
)

var t0 = time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func bars(n int, high, low float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			Instrument: "ES.c.0",
			Timeframe:  time.Minute,
			Start:      t0.Add(time.Duration(i-n) * time.Minute),
			Open:       (high + low) / 2,
			High:       high,
			Low:        low,
			Close:      (high + low) / 2,
			VolumeKind: domain.VolumeReal,
		}
	}
	return out
}

func inputs(bid, ask float64, candles []domain.Candle, flow domain.OrderFlowSnapshot) Inputs {
	flow.Ready = true
	return Inputs{
		Instrument: "ES.c.0",
		Now:        t0,
		Tick:       hub.TickView{Tick: domain.Tick{Instrument: "ES.c.0", Time: t0, Bid: bid, Ask: ask}},
		HasTick:    true,
		Candles:    hub.CandleView{Instrument: "ES.c.0", Candles: candles},
		Flow:       hub.FlowView{Snapshot: flow},
		HasFlow:    true,
	}
}

func TestSweepReversal_FadesSweptHigh(t *testing.T) {
	cs := bars(10, 5010, 4990)
	cs[8].High = 5015
	d := NewSweepReversal(Config{RewardRisk: 1.5}, discard())

	got, err := d.Detect(context.Background(), inputs(5004.75, 5005.25, cs, domain.OrderFlowSnapshot{
		Imbalance: -0.2, SweepRisk: true, SweepSide: domain.SideAsk,
	}))
	require.NoError(t, err)
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, domain.Short, s.Direction)
	assert.Equal(t, "sweep_reversal", s.Kind)
	assert.InDelta(t, 5005.0, s.Price, 1e-9)
	assert.InDelta(t, 5015.0, s.Stop, 1e-9)
	assert.InDelta(t, 4990.0, s.Target, 1e-9)
	assert.InDelta(t, 0.6, s.Confidence, 1e-9)
	assert.True(t, s.Valid())
}

func TestSweepReversal_RequiresConfirmationAndHistory(t *testing.T) {
	d := NewSweepReversal(Config{}, discard())
	flow := domain.OrderFlowSnapshot{Imbalance: -0.2, SweepRisk: true, SweepSide: domain.SideBid}

	got, err := d.Detect(context.Background(), inputs(5000, 5000.25, bars(10, 5010, 4990), flow))
	require.NoError(t, err)
	assert.Empty(t, got, "imbalance against a long")

	_, err = d.Detect(context.Background(), inputs(5000, 5000.25, bars(4, 5010, 4990), domain.OrderFlowSnapshot{
		Imbalance: 0.2, SweepRisk: true, SweepSide: domain.SideBid,
	}))
	assert.ErrorIs(t, err, domain.ErrNotReady)

	degraded := inputs(5000, 5000.25, bars(10, 5010, 4990), domain.OrderFlowSnapshot{Imbalance: 0.5, SweepRisk: true, SweepSide: domain.SideBid})
	degraded.Flow.Snapshot.Degraded = true
	got, err = d.Detect(context.Background(), degraded)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSweepReversal_InstrumentFilter(t *testing.T) {
	d := NewSweepReversal(Config{Instruments: []string{"NQ.c.0"}}, discard())
	got, err := d.Detect(context.Background(), inputs(5000, 5000.25, bars(10, 5010, 4990), domain.OrderFlowSnapshot{
		Imbalance: 0.3, SweepRisk: true, SweepSide: domain.SideBid,
	}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlowMomentum(t *testing.T) {
	d := NewFlowMomentum(Config{RewardRisk: 1.5}, discard())
	cs := bars(14, 5001, 5000)

	tests := []struct {
		name string
		flow domain.OrderFlowSnapshot
		mid  float64
		want domain.Direction
	}{
		{"long with flow", domain.OrderFlowSnapshot{Imbalance: 0.4, VolumeDelta: 50, VWAP: 5000}, 5002, domain.Long},
		{"short with flow", domain.OrderFlowSnapshot{Imbalance: -0.5, VolumeDelta: -20, VWAP: 5004}, 5002, domain.Short},
		{"weak imbalance", domain.OrderFlowSnapshot{Imbalance: 0.1, VolumeDelta: 50, VWAP: 5000}, 5002, ""},
		{"delta disagrees", domain.OrderFlowSnapshot{Imbalance: 0.4, VolumeDelta: -5, VWAP: 5000}, 5002, ""},
		{"below vwap", domain.OrderFlowSnapshot{Imbalance: 0.4, VolumeDelta: 50, VWAP: 5003}, 5002, ""},
		{"sweep in progress", domain.OrderFlowSnapshot{Imbalance: 0.4, VolumeDelta: 50, SweepRisk: true}, 5002, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect(context.Background(), inputs(tt.mid-0.25, tt.mid+0.25, cs, tt.flow))
			require.NoError(t, err)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			s := got[0]
			assert.Equal(t, tt.want, s.Direction)
			assert.InDelta(t, 1.0, tt.want.Sign()*(s.Price-s.Stop), 1e-9)
			assert.InDelta(t, 1.5, tt.want.Sign()*(s.Target-s.Price), 1e-9)
			assert.True(t, s.Valid())
		})
	}
}

func TestFlowMomentum_NotReady(t *testing.T) {
	d := NewFlowMomentum(Config{}, discard())
	_, err := d.Detect(context.Background(), inputs(5001.75, 5002.25, bars(3, 5001, 5000),
		domain.OrderFlowSnapshot{Imbalance: 0.4, VolumeDelta: 50}))
	assert.ErrorIs(t, err, domain.ErrNotReady)
}
