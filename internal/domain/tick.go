package domain

import (
	"fmt"
	"time"
)

// Tick is a top-of-book quote for one instrument. Ticks are replaced, never
// mutated, on each update.
type Tick struct {
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Source     string    `json:"source,omitempty"`
}

// Spread returns ask minus bid.
func (t Tick) Spread() float64 { return t.Ask - t.Bid }

// Mid returns the midpoint between bid and ask.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Validate rejects crossed or empty quotes.
func (t Tick) Validate() error {
	if t.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrInvalidTick)
	}
	if t.Time.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidTick)
	}
	if t.Ask < t.Bid {
		return fmt.Errorf("%w: ask %.8f below bid %.8f", ErrInvalidTick, t.Ask, t.Bid)
	}
	return nil
}
