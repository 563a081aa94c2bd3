package domain

import (
	"context"
	"time"
)

// TickCache mirrors the latest quote per instrument for out-of-process
// readers.
type TickCache interface {
	SetTick(ctx context.Context, t Tick) error
	GetTick(ctx context.Context, instrument string) (Tick, error)
}

// WindowCache shares gating windows between the calendar producer and every
// evaluating process.
type WindowCache interface {
	PutWindow(ctx context.Context, w GatingWindow) error
	ActiveWindows(ctx context.Context, from, to time.Time) ([]GatingWindow, error)
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter limits requests per key across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
