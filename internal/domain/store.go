package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CandleStore persists finalized candles and serves the warm-start query.
// LoadRecentCandles returns oldest-first and an empty slice when nothing is
// stored.
type CandleStore interface {
	UpsertBatch(ctx context.Context, candles []Candle) error
	LoadRecentCandles(ctx context.Context, instrument string, timeframe time.Duration, limit int) ([]Candle, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Candle, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists position records.
type PositionStore interface {
	Create(ctx context.Context, pos PositionRecord) error
	Close(ctx context.Context, pos PositionRecord) error
	GetByID(ctx context.Context, id string) (PositionRecord, error)
	GetOpen(ctx context.Context) ([]PositionRecord, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]PositionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
