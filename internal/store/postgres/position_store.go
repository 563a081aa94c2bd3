package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, instrument, direction, entry_price, entry_time,
	stop, target, size, size_tier, confidence, setup,
	status, close_reason, exit_price, exit_time, realized_pnl`

func scanPosition(row pgx.Row) (domain.PositionRecord, error) {
	var p domain.PositionRecord
	var direction, status, reason string
	err := row.Scan(
		&p.ID, &p.Instrument, &direction, &p.EntryPrice, &p.EntryTime,
		&p.Stop, &p.Target, &p.Size, &p.SizeTier, &p.Confidence, &p.Setup,
		&status, &reason, &p.ExitPrice, &p.ExitTime, &p.RealizedPnL,
	)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.PositionRecord, error) {
	defer rows.Close()
	var out []domain.PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a newly opened position. A duplicate id returns
// domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.PositionRecord) error {
	const query = `
		INSERT INTO positions (
			id, instrument, direction, entry_price, entry_time,
			stop, target, size, size_tier, confidence, setup,
			status, realized_pnl, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Instrument, string(p.Direction), p.EntryPrice, p.EntryTime,
		p.Stop, p.Target, p.Size, p.SizeTier, p.Confidence, p.Setup,
		string(domain.PositionStatusOpen), p.RealizedPnL,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Close writes the terminal fields of a position. A close for an id that
// was never created (its open event was lost) inserts the full record; a
// second close of the same position returns domain.ErrAlreadyClosed.
func (s *PositionStore) Close(ctx context.Context, p domain.PositionRecord) error {
	const query = `
		INSERT INTO positions (
			id, instrument, direction, entry_price, entry_time,
			stop, target, size, size_tier, confidence, setup,
			status, close_reason, exit_price, exit_time, realized_pnl, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			close_reason = EXCLUDED.close_reason,
			exit_price   = EXCLUDED.exit_price,
			exit_time    = EXCLUDED.exit_time,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at   = NOW()
		WHERE positions.status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Instrument, string(p.Direction), p.EntryPrice, p.EntryTime,
		p.Stop, p.Target, p.Size, p.SizeTier, p.Confidence, p.Setup,
		string(domain.PositionStatusClosed), string(p.CloseReason), p.ExitPrice, p.ExitTime, p.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %s: %w", p.ID, domain.ErrAlreadyClosed)
	}
	return nil
}

// GetByID returns a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.PositionRecord, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionRecord{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.PositionRecord{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpen returns every open position, oldest first.
func (s *PositionStore) GetOpen(ctx context.Context) ([]domain.PositionRecord, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'open' ORDER BY entry_time`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return out, nil
}

// ListHistory returns closed positions, most recently closed first. Since
// and Until filter on exit time.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	f := filter{}
	f.add("status = $%d", string(domain.PositionStatusClosed))
	f.window("exit_time", opts.Since, opts.Until)
	query := `SELECT ` + positionSelectCols + ` FROM positions` + f.sql("exit_time DESC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return out, nil
}

// ListClosedBefore returns up to limit closed positions whose exit time is
// before the cutoff, oldest first. Used by the archiver.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.PositionRecord, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'closed' AND exit_time < $1 ORDER BY exit_time LIMIT $2`
	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return out, nil
}

// DeleteClosedBefore removes closed positions whose exit time is before the
// cutoff.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE status = 'closed' AND exit_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
