package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// TickCache implements domain.TickCache using Redis hashes. Each instrument
// is stored at "tick:{instrument}" with fields bid, ask, ts (Unix nanos) and
// source, expiring after ttl so a dead feed leaves no quote behind.
type TickCache struct {
	c   *Client
	ttl time.Duration
}

// NewTickCache creates a TickCache backed by the given Client.
func NewTickCache(c *Client, ttl time.Duration) *TickCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TickCache{c: c, ttl: ttl}
}

func (tc *TickCache) key(instrument string) string {
	return tc.c.Key("tick:" + instrument)
}

// SetTick stores the latest quote for an instrument.
func (tc *TickCache) SetTick(ctx context.Context, t domain.Tick) error {
	key := tc.key(t.Instrument)
	pipe := tc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"bid":    strconv.FormatFloat(t.Bid, 'f', -1, 64),
		"ask":    strconv.FormatFloat(t.Ask, 'f', -1, 64),
		"ts":     strconv.FormatInt(t.Time.UnixNano(), 10),
		"source": t.Source,
	})
	pipe.Expire(ctx, key, tc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set tick %s: %w", t.Instrument, err)
	}
	return nil
}

// GetTick returns the cached quote, or domain.ErrNotFound.
func (tc *TickCache) GetTick(ctx context.Context, instrument string) (domain.Tick, error) {
	vals, err := tc.c.rdb.HGetAll(ctx, tc.key(instrument)).Result()
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: get tick %s: %w", instrument, err)
	}
	return parseTick(instrument, vals)
}

// GetTicks fetches several instruments in one pipeline. Missing instruments
// are omitted.
func (tc *TickCache) GetTicks(ctx context.Context, instruments []string) (map[string]domain.Tick, error) {
	out := make(map[string]domain.Tick, len(instruments))
	if len(instruments) == 0 {
		return out, nil
	}
	pipe := tc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(instruments))
	for _, inst := range instruments {
		cmds[inst] = pipe.HGetAll(ctx, tc.key(inst))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get ticks pipeline: %w", err)
	}
	for inst, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if t, err := parseTick(inst, vals); err == nil {
			out[inst] = t
		}
	}
	return out, nil
}

func parseTick(instrument string, vals map[string]string) (domain.Tick, error) {
	if len(vals) == 0 {
		return domain.Tick{}, domain.ErrNotFound
	}
	bid, err := strconv.ParseFloat(vals["bid"], 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse bid %s: %w", instrument, err)
	}
	ask, err := strconv.ParseFloat(vals["ask"], 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse ask %s: %w", instrument, err)
	}
	ns, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("redis: parse ts %s: %w", instrument, err)
	}
	return domain.Tick{
		Instrument: instrument,
		Time:       time.Unix(0, ns).UTC(),
		Bid:        bid,
		Ask:        ask,
		Source:     vals["source"],
	}, nil
}

var _ domain.TickCache = (*TickCache)(nil)
