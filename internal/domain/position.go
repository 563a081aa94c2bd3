package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// CloseReason records why a position was closed. Exactly one is set.
type CloseReason string

const (
	CloseTarget    CloseReason = "target"
	CloseStop      CloseReason = "stop"
	CloseTimeout   CloseReason = "timeout"
	CloseManual    CloseReason = "manual"
	CloseEmergency CloseReason = "emergency"
)

// PositionRecord is a scalp position opened by the lifecycle manager. Entry,
// stop and target are fixed at open and never change.
type PositionRecord struct {
	ID          string          `json:"id"`
	Instrument  string          `json:"instrument"`
	Direction   Direction       `json:"direction"`
	EntryPrice  float64         `json:"entry_price"`
	EntryTime   time.Time       `json:"entry_time"`
	Stop        float64         `json:"stop"`
	Target      float64         `json:"target"`
	Size        float64         `json:"size"`
	SizeTier    int             `json:"size_tier"`
	Confidence  float64         `json:"confidence"`
	Setup       string          `json:"setup"`
	Status      PositionStatus  `json:"status"`
	CloseReason CloseReason     `json:"close_reason,omitempty"`
	ExitPrice   float64         `json:"exit_price,omitempty"`
	ExitTime    *time.Time      `json:"exit_time,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Age returns how long the position has been open at now.
func (p PositionRecord) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// PnLAt returns the profit of the position if it were closed at price.
func (p PositionRecord) PnLAt(price float64) decimal.Decimal {
	move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	if p.Direction == Short {
		move = move.Neg()
	}
	return move.Mul(decimal.NewFromFloat(p.Size))
}

// PositionEventType distinguishes open and close notifications.
type PositionEventType string

const (
	PositionOpened PositionEventType = "position_opened"
	PositionClosed PositionEventType = "position_closed"
)

// PositionEvent is emitted by the lifecycle manager for downstream audit.
type PositionEvent struct {
	Type     PositionEventType `json:"type"`
	Position PositionRecord    `json:"position"`
	At       time.Time         `json:"at"`
}
