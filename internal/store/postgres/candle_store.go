package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// CandleStore implements domain.CandleStore using PostgreSQL. Candles are
// keyed by (instrument, timeframe, source, start); rewriting a bar replaces
// it.
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a new CandleStore backed by the given connection pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

const candleSelectCols = `instrument, timeframe_sec, source, start_time,
	open, high, low, close, volume, volume_kind, ticks, filled`

const candleUpsert = `
	INSERT INTO candles (
		instrument, timeframe_sec, source, start_time,
		open, high, low, close, volume, volume_kind, ticks, filled
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (instrument, timeframe_sec, source, start_time) DO UPDATE SET
		open        = EXCLUDED.open,
		high        = EXCLUDED.high,
		low         = EXCLUDED.low,
		close       = EXCLUDED.close,
		volume      = EXCLUDED.volume,
		volume_kind = EXCLUDED.volume_kind,
		ticks       = EXCLUDED.ticks,
		filled      = EXCLUDED.filled`

func scanCandles(rows pgx.Rows) ([]domain.Candle, error) {
	defer rows.Close()
	out := []domain.Candle{}
	for rows.Next() {
		var c domain.Candle
		var tfSec int
		var kind string
		if err := rows.Scan(
			&c.Instrument, &tfSec, &c.Source, &c.Start,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &kind, &c.Ticks, &c.Filled,
		); err != nil {
			return nil, err
		}
		c.Timeframe = time.Duration(tfSec) * time.Second
		c.VolumeKind = domain.VolumeKind(kind)
		c.Start = c.Start.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertBatch writes candles in one round trip.
func (s *CandleStore) UpsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(candleUpsert,
			c.Instrument, int(c.Timeframe/time.Second), c.Source, c.Start,
			c.Open, c.High, c.Low, c.Close, c.Volume, string(c.VolumeKind), c.Ticks, c.Filled,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: upsert %d candles: %w", len(candles), err)
	}
	return nil
}

// LoadRecentCandles returns, for every source of the instrument, up to
// limit of the newest candles at timeframe. The result is ordered oldest
// first and is empty when nothing is stored.
func (s *CandleStore) LoadRecentCandles(ctx context.Context, instrument string, timeframe time.Duration, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return []domain.Candle{}, nil
	}
	query := `
		SELECT ` + candleSelectCols + ` FROM (
			SELECT *, row_number() OVER (PARTITION BY source ORDER BY start_time DESC) AS rn
			FROM candles
			WHERE instrument = $1 AND timeframe_sec = $2
		) recent
		WHERE rn <= $3
		ORDER BY start_time, source`

	rows, err := s.pool.Query(ctx, query, instrument, int(timeframe/time.Second), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: load recent candles %s: %w", instrument, err)
	}
	out, err := scanCandles(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan candles %s: %w", instrument, err)
	}
	return out, nil
}

// ListBefore returns up to limit candles starting before the cutoff, oldest
// first.
func (s *CandleStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Candle, error) {
	query := `SELECT ` + candleSelectCols + ` FROM candles
		WHERE start_time < $1 ORDER BY start_time, instrument, source LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles before %s: %w", before.Format(time.RFC3339), err)
	}
	out, err := scanCandles(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan candles: %w", err)
	}
	return out, nil
}

// DeleteBefore removes candles starting before the cutoff.
func (s *CandleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM candles WHERE start_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete candles: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.CandleStore = (*CandleStore)(nil)
