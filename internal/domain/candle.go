package domain

import (
	"fmt"
	"math"
	"time"
)

// VolumeKind says whether a candle's volume is traded size or a tick count.
type VolumeKind string

const (
	VolumeReal  VolumeKind = "real"
	VolumeProxy VolumeKind = "proxy"
)

// Candle is a finalized OHLC bar for one (instrument, timeframe, source).
// Start is the wall-clock aligned bucket start.
type Candle struct {
	Instrument string        `json:"instrument"`
	Timeframe  time.Duration `json:"timeframe"`
	Start      time.Time     `json:"start"`
	Open       float64       `json:"open"`
	High       float64       `json:"high"`
	Low        float64       `json:"low"`
	Close      float64       `json:"close"`
	Volume     float64       `json:"volume"`
	Source     string        `json:"source"`
	VolumeKind VolumeKind    `json:"volume_kind"`
	Ticks      int           `json:"ticks"`
	// Filled marks a carried-forward bar emitted for a bucket with no updates.
	Filled bool `json:"filled,omitempty"`
}

// End returns the exclusive end of the candle's bucket.
func (c Candle) End() time.Time { return c.Start.Add(c.Timeframe) }

// Validate checks the OHLC envelope and volume sign.
func (c Candle) Validate() error {
	switch {
	case c.Instrument == "":
		return fmt.Errorf("%w: empty instrument", ErrInvalidCandle)
	case c.Timeframe <= 0:
		return fmt.Errorf("%w: timeframe %s", ErrInvalidCandle, c.Timeframe)
	case c.High < math.Max(c.Open, c.Close):
		return fmt.Errorf("%w: high %.8f below body", ErrInvalidCandle, c.High)
	case c.Low > math.Min(c.Open, c.Close):
		return fmt.Errorf("%w: low %.8f above body", ErrInvalidCandle, c.Low)
	case c.Volume < 0:
		return fmt.Errorf("%w: negative volume", ErrInvalidCandle)
	}
	return nil
}

// CarryForward returns an empty bar for the bucket starting at start, priced
// at c's close.
func (c Candle) CarryForward(start time.Time) Candle {
	return Candle{
		Instrument: c.Instrument,
		Timeframe:  c.Timeframe,
		Start:      start,
		Open:       c.Close,
		High:       c.Close,
		Low:        c.Close,
		Close:      c.Close,
		Source:     c.Source,
		VolumeKind: c.VolumeKind,
		Filled:     true,
	}
}
