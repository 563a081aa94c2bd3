package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// CandleWriter persists finalized candles in batches. PushCandle never
// blocks the aggregator: candles that do not fit in the queue are dropped
// and counted.
type CandleWriter struct {
	store     domain.CandleStore
	queue     chan domain.Candle
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	written atomic.Int64
	dropped atomic.Int64
}

// NewCandleWriter creates a CandleWriter that flushes every interval or
// whenever batchSize candles are pending.
func NewCandleWriter(store domain.CandleStore, batchSize int, interval time.Duration, logger *slog.Logger) *CandleWriter {
	if batchSize <= 0 {
		batchSize = 200
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &CandleWriter{
		store:     store,
		queue:     make(chan domain.Candle, batchSize*8),
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "candle_writer")),
	}
}

// PushCandle implements candles.Sink.
func (w *CandleWriter) PushCandle(c domain.Candle) bool {
	select {
	case w.queue <- c:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Written returns the number of candles persisted so far.
func (w *CandleWriter) Written() int64 { return w.written.Load() }

// Dropped returns the number of candles discarded on a full queue.
func (w *CandleWriter) Dropped() int64 { return w.dropped.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (w *CandleWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]domain.Candle, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.store.UpsertBatch(ctx, batch); err != nil {
			w.logger.ErrorContext(ctx, "candle_writer: flush failed",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()),
			)
		} else {
			w.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		drain:
			for {
				select {
				case c := <-w.queue:
					batch = append(batch, c)
					if len(batch) >= w.batchSize {
						flush(drainCtx)
					}
				default:
					break drain
				}
			}
			flush(drainCtx)
			cancel()
			return ctx.Err()
		case c := <-w.queue:
			batch = append(batch, c)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
