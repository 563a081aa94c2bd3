package domain

import "time"

// Side is a book side.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Aggressor identifies which side initiated a trade print.
type Aggressor string

const (
	AggressorBuy  Aggressor = "buy"
	AggressorSell Aggressor = "sell"
	AggressorNone Aggressor = "none"
)

// BookLevel is one resting price level. Rank 0 is the best price.
type BookLevel struct {
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Rank  int     `json:"rank"`
}

// BookUpdate is an incremental level-2 change. Size zero removes the level.
type BookUpdate struct {
	Side  Side    `json:"side"`
	Level int     `json:"level"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot replaces the whole book.
type BookSnapshot struct {
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

// TradePrint is a single executed trade.
type TradePrint struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Aggressor Aggressor `json:"aggressor"`
	Time      time.Time `json:"time"`
}

// VenueEvent is a futures feed record keyed by the venue's numeric
// instrument id. Exactly one of Book, Trade or Snapshot is set.
type VenueEvent struct {
	InstrumentID uint32        `json:"instrument_id"`
	Seq          uint64        `json:"seq"`
	Time         time.Time     `json:"time"`
	Book         *BookUpdate   `json:"book,omitempty"`
	Trade        *TradePrint   `json:"trade,omitempty"`
	Snapshot     *BookSnapshot `json:"snapshot,omitempty"`
}

// OrderFlowSnapshot summarizes microstructure for one instrument over its
// trailing window.
type OrderFlowSnapshot struct {
	Instrument  string     `json:"instrument"`
	WindowEnd   time.Time  `json:"window_end"`
	Imbalance   float64    `json:"imbalance"`
	VolumeDelta float64    `json:"volume_delta"`
	Microprice  float64    `json:"microprice"`
	VWAP        float64    `json:"vwap"`
	VWAPKind    VolumeKind `json:"vwap_kind"`
	BestBid     float64    `json:"best_bid"`
	BestAsk     float64    `json:"best_ask"`
	SweepRisk   bool       `json:"sweep_risk"`
	// SweepSide is the side whose extreme was pierced and rejected.
	SweepSide Side `json:"sweep_side,omitempty"`
	// Degraded is set after a sequence gap until a full snapshot arrives.
	Degraded bool `json:"degraded"`
	// Ready is false while the book or trade history is under-filled.
	Ready bool `json:"ready"`
}
