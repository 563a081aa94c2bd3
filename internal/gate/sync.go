package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Syncer keeps a local WindowIndex in step with the shared window cache, so
// windows produced by the calendar process gate every other process too.
type Syncer struct {
	cache    domain.WindowCache
	index    *WindowIndex
	interval time.Duration
	horizon  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSyncer creates a Syncer that loads windows overlapping
// [now-horizon, now+horizon] every interval.
func NewSyncer(cache domain.WindowCache, index *WindowIndex, interval, horizon time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	return &Syncer{
		cache:    cache,
		index:    index,
		interval: interval,
		horizon:  horizon,
		logger:   logger.With(slog.String("component", "gate_sync")),
		now:      time.Now,
	}
}

// SyncOnce pulls windows from the cache into the index and prunes expired
// ones from both.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	now := s.now()
	windows, err := s.cache.ActiveWindows(ctx, now.Add(-s.horizon), now.Add(s.horizon))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range windows {
		if err := s.index.Add(w); err != nil {
			s.logger.WarnContext(ctx, "gate_sync: skipping window", slog.String("error", err.Error()))
			continue
		}
		n++
	}
	s.index.Prune(now)
	if _, err := s.cache.PruneBefore(ctx, now.Add(-s.horizon)); err != nil {
		s.logger.WarnContext(ctx, "gate_sync: prune failed", slog.String("error", err.Error()))
	}
	return n, nil
}

// Run syncs on every tick until ctx is cancelled. Cache errors are logged;
// the index keeps its last known windows.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "gate_sync: load failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
