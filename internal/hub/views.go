package hub

import (
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// TickView is a copied-out latest tick with its staleness at read time.
type TickView struct {
	Tick  domain.Tick   `json:"tick"`
	Age   time.Duration `json:"age"`
	Stale bool          `json:"stale"`
}

// CandleView is a copied-out, oldest-first candle sequence. Source and
// VolumeKind label where the bars came from.
type CandleView struct {
	Instrument string            `json:"instrument"`
	Timeframe  time.Duration     `json:"timeframe"`
	Source     string            `json:"source"`
	VolumeKind domain.VolumeKind `json:"volume_kind"`
	Candles    []domain.Candle   `json:"candles"`
	Stale      bool              `json:"stale"`
}

// Ready reports whether at least n bars are available.
func (v CandleView) Ready(n int) bool { return len(v.Candles) >= n }

// FlowView is a copied-out order-flow snapshot with its staleness.
type FlowView struct {
	Snapshot domain.OrderFlowSnapshot `json:"snapshot"`
	Age      time.Duration            `json:"age"`
	Stale    bool                     `json:"stale"`
}
