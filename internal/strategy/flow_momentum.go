package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

const (
	defaultMomentumImbalance = 0.3
	defaultMomentumATRBars   = 14
	defaultMomentumATRMult   = 1.0
)

// FlowMomentum joins strong one-sided flow: book imbalance past a threshold,
// volume delta agreeing with it, and price on the same side of VWAP.
type FlowMomentum struct {
	cfg    Config
	logger *slog.Logger
}

// NewFlowMomentum creates a FlowMomentum detector. Params: "min_imbalance"
// (default 0.3), "atr_bars" (default 14) and "atr_mult" (default 1.0) size
// the stop as a multiple of the mean bar range.
func NewFlowMomentum(cfg Config, logger *slog.Logger) *FlowMomentum {
	return &FlowMomentum{
		cfg:    cfg,
		logger: logger.With(slog.String("detector", "flow_momentum")),
	}
}

// Name returns the detector identifier.
func (f *FlowMomentum) Name() string { return "flow_momentum" }

// Detect implements Detector.
func (f *FlowMomentum) Detect(ctx context.Context, in Inputs) ([]domain.Setup, error) {
	if !applies(f.cfg, in.Instrument) || !usable(in) {
		return nil, nil
	}
	snap := in.Flow.Snapshot
	if snap.SweepRisk {
		return nil, nil
	}
	imb := snap.Imbalance
	if math.Abs(imb) < f.cfg.floatParam("min_imbalance", defaultMomentumImbalance) {
		return nil, nil
	}
	dir := domain.Long
	if imb < 0 {
		dir = domain.Short
	}
	if dir.Sign()*snap.VolumeDelta <= 0 {
		return nil, nil
	}
	price := in.Tick.Tick.Mid()
	if snap.VWAP > 0 && dir.Sign()*(price-snap.VWAP) <= 0 {
		return nil, nil
	}

	bars := f.cfg.intParam("atr_bars", defaultMomentumATRBars)
	if !in.Candles.Ready(bars) {
		return nil, domain.ErrNotReady
	}
	atr := meanRange(in.Candles.Candles[len(in.Candles.Candles)-bars:])
	if atr <= 0 {
		return nil, nil
	}
	risk := atr * f.cfg.floatParam("atr_mult", defaultMomentumATRMult)

	setup := domain.Setup{
		Instrument: in.Instrument,
		Kind:       f.Name(),
		Direction:  dir,
		Price:      price,
		Stop:       price - dir.Sign()*risk,
		Target:     price + dir.Sign()*risk*f.cfg.rewardRisk(),
		Confidence: math.Min(1, math.Abs(imb)),
		DetectedAt: in.Now,
		Notes:      fmt.Sprintf("ofi %.2f delta %.0f vwap %.5f (%s)", imb, snap.VolumeDelta, snap.VWAP, snap.VWAPKind),
	}
	f.logger.DebugContext(ctx, "flow_momentum: setup",
		slog.String("instrument", in.Instrument),
		slog.String("direction", string(dir)),
		slog.Float64("imbalance", imb),
	)
	return []domain.Setup{setup}, nil
}

func meanRange(bars []domain.Candle) float64 {
	var sum float64
	for _, b := range bars {
		sum += b.High - b.Low
	}
	return sum / float64(len(bars))
}
