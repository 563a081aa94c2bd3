package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Archiver moves candles and closed positions older than the retention
// period from the database to cold storage.
type Archiver struct {
	blob      domain.Archiver
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
	trigger   chan struct{}
}

// NewArchiver creates a new Archiver.
func NewArchiver(blob domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Archiver{
		blob:      blob,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger requests an immediate run from RunCron. It reports false when a
// request is already pending.
func (a *Archiver) Trigger() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// ArchiveResult counts what one run moved.
type ArchiveResult struct {
	Cutoff    time.Time `json:"cutoff"`
	Candles   int64     `json:"candles"`
	Positions int64     `json:"positions"`
}

// Run executes a single archive run for everything older than the
// retention period.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	res := ArchiveResult{Cutoff: a.now().UTC().Add(-a.retention)}
	a.logger.InfoContext(ctx, "archiver: run started", slog.Time("cutoff", res.Cutoff))

	var err error
	res.Candles, err = a.blob.ArchiveCandles(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("pipeline: archive candles before %s: %w", res.Cutoff.Format(time.RFC3339), err)
	}
	res.Positions, err = a.blob.ArchivePositions(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("pipeline: archive positions before %s: %w", res.Cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int64("candles", res.Candles),
		slog.Int64("positions", res.Positions),
	)
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule ("minute hour
// day-of-month month day-of-week") until ctx is cancelled.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	for {
		next, ok := sched.next(a.now().UTC())
		if !ok {
			return fmt.Errorf("pipeline: cron %q never fires", cronExpr)
		}
		a.logger.DebugContext(ctx, "archiver: waiting", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-a.trigger:
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver: manual run requested")
			a.runLogged(ctx)
		case <-timer.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Archiver) runLogged(ctx context.Context) {
	if _, err := a.Run(ctx); err != nil {
		a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
	}
}

// cronField matches one field of a cron expression.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.wildcard || f.values[v]
}

// parseCronField accepts "*", "n", "a-b", "*/s", "a-b/s" and comma lists of
// those, within [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	f := cronField{values: make(map[int]bool)}
	for _, part := range strings.Split(field, ",") {
		rng, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			rng, step = part[:i], s
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err1, err2 error
			from, err1 = strconv.Atoi(a)
			to, err2 = strconv.Atoi(b)
			if err1 != nil || err2 != nil {
				return cronField{}, fmt.Errorf("invalid range %q", rng)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", rng)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("%q out of range [%d,%d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.values[v] = true
		}
	}
	return f, nil
}

type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("want 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		parsed[i] = cf
	}
	return cronSchedule{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dom.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dow.matches(int(t.Weekday()))
}

// next returns the first minute strictly after after that matches, searching
// up to a year ahead.
func (c cronSchedule) next(after time.Time) (time.Time, bool) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for ; t.Before(limit); t = t.Add(time.Minute) {
		if c.matches(t) {
			return t, true
		}
	}
	return time.Time{}, false
}
