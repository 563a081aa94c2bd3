package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

const (
	defaultSweepLookback  = 10
	defaultSweepBuffer    = 0.0
	defaultSweepImbalance = 0.0
)

// SweepReversal fades a liquidity sweep: when the order-flow engine flags
// that a recent extreme was pierced and rejected, it proposes a trade back
// into the range with the stop beyond the swept extreme.
type SweepReversal struct {
	cfg    Config
	logger *slog.Logger
}

// NewSweepReversal creates a SweepReversal detector. The following keys are
// read from cfg.Params:
//
//   - "lookback" (int): bars scanned for the swept extreme. Defaults to 10.
//   - "stop_buffer" (float64): price distance added beyond the extreme.
//   - "min_imbalance" (float64): book imbalance required in the trade's
//     direction. Defaults to 0.
func NewSweepReversal(cfg Config, logger *slog.Logger) *SweepReversal {
	return &SweepReversal{
		cfg:    cfg,
		logger: logger.With(slog.String("detector", "sweep_reversal")),
	}
}

// Name returns the detector identifier.
func (s *SweepReversal) Name() string { return "sweep_reversal" }

// Detect implements Detector.
func (s *SweepReversal) Detect(ctx context.Context, in Inputs) ([]domain.Setup, error) {
	if !applies(s.cfg, in.Instrument) || !usable(in) {
		return nil, nil
	}
	snap := in.Flow.Snapshot
	if !snap.SweepRisk {
		return nil, nil
	}
	lookback := s.cfg.intParam("lookback", defaultSweepLookback)
	if !in.Candles.Ready(lookback) {
		return nil, domain.ErrNotReady
	}
	hi, lo := extremes(in.Candles.Candles[len(in.Candles.Candles)-lookback:])

	dir := domain.Long
	if snap.SweepSide == domain.SideAsk {
		dir = domain.Short
	}
	if dir.Sign()*snap.Imbalance < s.cfg.floatParam("min_imbalance", defaultSweepImbalance) {
		return nil, nil
	}

	price := in.Tick.Tick.Mid()
	buffer := s.cfg.floatParam("stop_buffer", defaultSweepBuffer)
	stop := lo - buffer
	if dir == domain.Short {
		stop = hi + buffer
	}
	risk := dir.Sign() * (price - stop)
	if risk <= 0 {
		return nil, nil
	}

	setup := domain.Setup{
		Instrument: in.Instrument,
		Kind:       s.Name(),
		Direction:  dir,
		Price:      price,
		Stop:       stop,
		Target:     price + dir.Sign()*risk*s.cfg.rewardRisk(),
		Confidence: math.Min(1, 0.5+math.Abs(snap.Imbalance)/2),
		DetectedAt: in.Now,
		Notes:      fmt.Sprintf("swept %s side, range %.5f-%.5f, ofi %.2f", snap.SweepSide, lo, hi, snap.Imbalance),
	}
	s.logger.DebugContext(ctx, "sweep_reversal: setup",
		slog.String("instrument", in.Instrument),
		slog.String("direction", string(dir)),
		slog.Float64("price", price),
		slog.Float64("stop", stop),
	)
	return []domain.Setup{setup}, nil
}

func applies(cfg Config, instrument string) bool {
	return len(cfg.Instruments) == 0 || slices.Contains(cfg.Instruments, instrument)
}

// usable reports whether the tick and order flow can be trusted.
func usable(in Inputs) bool {
	if !in.HasTick || in.Tick.Stale || !in.HasFlow || in.Flow.Stale {
		return false
	}
	snap := in.Flow.Snapshot
	return snap.Ready && !snap.Degraded
}

func extremes(bars []domain.Candle) (hi, lo float64) {
	hi, lo = bars[0].High, bars[0].Low
	for _, b := range bars[1:] {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	return hi, lo
}
