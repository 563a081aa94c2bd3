package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// WindowCache implements domain.WindowCache. Windows are stored as JSON in
// the hash "gate:windows:data" keyed by ID, and indexed in the sorted set
// "gate:windows" scored by end time (Unix millis), so both the overlap
// query and pruning are score-range scans.
type WindowCache struct {
	c *Client
}

// NewWindowCache creates a WindowCache backed by the given Client.
func NewWindowCache(c *Client) *WindowCache {
	return &WindowCache{c: c}
}

func (wc *WindowCache) indexKey() string { return wc.c.Key("gate:windows") }
func (wc *WindowCache) dataKey() string  { return wc.c.Key("gate:windows:data") }

// PutWindow stores w, replacing any window with the same ID.
func (wc *WindowCache) PutWindow(ctx context.Context, w domain.GatingWindow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("redis: marshal window %s: %w", w.ID, err)
	}
	pipe := wc.c.rdb.TxPipeline()
	pipe.HSet(ctx, wc.dataKey(), w.ID, data)
	pipe.ZAdd(ctx, wc.indexKey(), redis.Z{Score: float64(w.End.UnixMilli()), Member: w.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put window %s: %w", w.ID, err)
	}
	return nil
}

// ActiveWindows returns windows overlapping [from, to]: ending after from
// and starting no later than to.
func (wc *WindowCache) ActiveWindows(ctx context.Context, from, to time.Time) ([]domain.GatingWindow, error) {
	ids, err := wc.c.rdb.ZRangeByScore(ctx, wc.indexKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(from.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: range windows: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := wc.c.rdb.HMGet(ctx, wc.dataKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load windows: %w", err)
	}
	out := make([]domain.GatingWindow, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var w domain.GatingWindow
		if err := json.Unmarshal([]byte(s), &w); err != nil {
			continue
		}
		if w.Start.After(to) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// PruneBefore removes windows that ended at or before t.
func (wc *WindowCache) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	upTo := strconv.FormatInt(t.UnixMilli(), 10)
	ids, err := wc.c.rdb.ZRangeByScore(ctx, wc.indexKey(), &redis.ZRangeBy{Min: "-inf", Max: upTo}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: range expired windows: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := wc.c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, wc.indexKey(), "-inf", upTo)
	pipe.HDel(ctx, wc.dataKey(), ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: prune windows: %w", err)
	}
	return int64(len(ids)), nil
}

var _ domain.WindowCache = (*WindowCache)(nil)
