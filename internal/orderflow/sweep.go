package orderflow

import (
	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// SweepConfig tunes failed-breakout detection.
type SweepConfig struct {
	// Lookback is the number of bars whose extreme must be pierced.
	Lookback int
	// MinTicks is the minimum overshoot beyond the extreme, in ticks.
	MinTicks int
	// TickSize is the default instrument tick. TickSizes overrides it per
	// instrument.
	TickSize  float64
	TickSizes map[string]float64
}

func (c SweepConfig) tick(instrument string) float64 {
	if ts, ok := c.TickSizes[instrument]; ok && ts > 0 {
		return ts
	}
	return c.TickSize
}

// sweepDetector buffers the last few finalized bars of one instrument.
type sweepDetector struct {
	bars []domain.Candle
	cap  int
}

func newSweepDetector(lookback int) sweepDetector {
	return sweepDetector{cap: lookback + 2}
}

func (d *sweepDetector) push(c domain.Candle) {
	if n := len(d.bars); n > 0 && !c.Start.After(d.bars[n-1].Start) {
		return
	}
	d.bars = append(d.bars, c)
	if len(d.bars) > d.cap {
		d.bars = append(d.bars[:0], d.bars[len(d.bars)-d.cap:]...)
	}
}

// ready reports whether enough bars exist to define a trailing extreme.
func (d *sweepDetector) ready(lookback int) bool {
	return len(d.bars) >= lookback+1
}

// detect looks for a bar among the last two that pierced the trailing
// lookback extreme by at least minDist and closed back inside it on the same
// bar or the next one. The returned side is the book side whose resting
// stops were run: ask for a swept high, bid for a swept low.
func (d *sweepDetector) detect(lookback int, minDist float64) (bool, domain.Side) {
	n := len(d.bars)
	if n < lookback+1 {
		return false, ""
	}
	for j := n - 1; j >= n-2 && j >= lookback; j-- {
		hi, lo := d.bars[j-lookback].High, d.bars[j-lookback].Low
		for _, b := range d.bars[j-lookback+1 : j] {
			hi = max(hi, b.High)
			lo = min(lo, b.Low)
		}
		breach := d.bars[j]
		for k := j; k < n && k <= j+1; k++ {
			closeK := d.bars[k].Close
			if breach.High >= hi+minDist && closeK < hi {
				return true, domain.SideAsk
			}
			if breach.Low <= lo-minDist && closeK > lo {
				return true, domain.SideBid
			}
		}
	}
	return false, ""
}
