package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
)

// calendarEvent is the calendar wire format. The endpoint returns a JSON
// array:
//
//	[{"id":"us-cpi-2024-03","title":"US CPI","time":"2024-03-12T12:30:00Z",
//	  "impact":"high","instruments":["EURUSD","ES.c.0"]}]
//
// An empty instruments list blocks every instrument.
type calendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Time        time.Time `json:"time"`
	Impact      string    `json:"impact"`
	Instruments []string  `json:"instruments"`
}

func impactSeverity(impact string) int {
	switch strings.ToLower(impact) {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	}
	return 0
}

// WindowAdder receives windows locally, normally *gate.WindowIndex.
type WindowAdder interface {
	Add(w domain.GatingWindow) error
}

// CalendarConfig configures the poller.
type CalendarConfig struct {
	URL      string
	Token    string
	Interval time.Duration
	// Pre and Post widen each event into a [time-Pre, time+Post) blackout.
	Pre         time.Duration
	Post        time.Duration
	MinSeverity int
	Timeout     time.Duration
}

// CalendarPoller fetches scheduled releases and turns them into gating
// windows, adding each to the local index and to the shared window cache.
type CalendarPoller struct {
	cfg    CalendarConfig
	index  WindowAdder
	cache  domain.WindowCache
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewCalendarPoller creates a CalendarPoller. cache may be nil for a single
// process deployment.
func NewCalendarPoller(cfg CalendarConfig, index WindowAdder, cache domain.WindowCache, logger *slog.Logger) *CalendarPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Pre <= 0 {
		cfg.Pre = 5 * time.Minute
	}
	if cfg.Post <= 0 {
		cfg.Post = 15 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &CalendarPoller{
		cfg:    cfg,
		index:  index,
		cache:  cache,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(slog.String("component", "calendar")),
		now:    time.Now,
	}
}

// PollOnce fetches the calendar and stores windows for every upcoming or
// in-progress event at or above the minimum severity. It returns the number
// of windows stored.
func (p *CalendarPoller) PollOnce(ctx context.Context) (int, error) {
	events, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}

	now := p.now()
	stored := 0
	for _, raw := range events {
		sev := impactSeverity(raw.Impact)
		if raw.ID == "" || raw.Time.IsZero() || sev < p.cfg.MinSeverity {
			continue
		}
		ev := domain.CalendarEvent{
			ID:          raw.ID,
			Title:       raw.Title,
			Time:        raw.Time.UTC(),
			Severity:    sev,
			Instruments: raw.Instruments,
		}
		for _, w := range gate.FromEvent(ev, p.cfg.Pre, p.cfg.Post, "") {
			if !w.End.After(now) {
				continue
			}
			if err := p.index.Add(w); err != nil {
				p.logger.WarnContext(ctx, "calendar: bad window", slog.String("id", w.ID), slog.String("error", err.Error()))
				continue
			}
			if p.cache != nil {
				if err := p.cache.PutWindow(ctx, w); err != nil {
					p.logger.WarnContext(ctx, "calendar: share window failed", slog.String("id", w.ID), slog.String("error", err.Error()))
				}
			}
			stored++
		}
	}
	return stored, nil
}

func (p *CalendarPoller) fetch(ctx context.Context) ([]calendarEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("calendar: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("calendar: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var events []calendarEvent
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&events); err != nil {
		return nil, fmt.Errorf("calendar: decode: %w", err)
	}
	return events, nil
}

// Run polls immediately and then on every interval until ctx is cancelled.
// A failed poll keeps the windows already stored.
func (p *CalendarPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		n, err := p.PollOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			p.logger.WarnContext(ctx, "calendar: poll failed", slog.String("error", err.Error()))
		case err == nil:
			p.logger.DebugContext(ctx, "calendar: polled", slog.Int("windows", n))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
