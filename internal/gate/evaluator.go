// Package gate decides whether a new entry may be opened for an instrument
// at a given instant. Evaluation is a pure function of its inputs: trading
// sessions, the latest tick and the set of gating windows. Any failing check
// blocks; the most important reason is reported first.
package gate

import (
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/hub"
	"github.com/alanyoungcy/scalpcore/internal/metrics"
)

// Reason codes for non-window denials.
const (
	ReasonSessionClosed = "session_closed"
	ReasonNoTick        = "no_tick"
	ReasonStaleTick     = "stale_tick"
	ReasonSpreadTooWide = "spread_too_wide"
)

// Config holds the static gate parameters.
type Config struct {
	Sessions []Session
	// MaxSpread is the widest spread that passes; MaxSpreads overrides it
	// per instrument. A zero MaxSpread turns the spread check off. Loaded
	// configuration always sets it positive.
	MaxSpread  float64
	MaxSpreads map[string]float64
}

func (c Config) maxSpread(instrument string) float64 {
	if v, ok := c.MaxSpreads[instrument]; ok && v > 0 {
		return v
	}
	return c.MaxSpread
}

// Inputs is everything one evaluation looks at.
type Inputs struct {
	Instrument string
	Now        time.Time
	Tick       hub.TickView
	HasTick    bool
	Windows    []domain.GatingWindow
}

// Result is the gate decision. Reasons lists every failed check, most
// important first; Reason is Reasons[0].
type Result struct {
	Allowed       bool                  `json:"allowed"`
	Reason        string                `json:"reason,omitempty"`
	Reasons       []string              `json:"reasons,omitempty"`
	Session       string                `json:"session,omitempty"`
	ActiveWindows []domain.GatingWindow `json:"active_windows,omitempty"`
}

// Evaluate applies the news, session and spread gates. Windows in in.Windows
// that do not cover (instrument, now) are ignored, so callers may pass a
// superset.
func Evaluate(cfg Config, in Inputs) Result {
	var res Result

	var active []domain.GatingWindow
	for _, w := range in.Windows {
		if w.Covers(in.Instrument, in.Now) {
			active = append(active, w)
		}
	}
	if len(active) > 0 {
		top := 0
		for i, w := range active {
			if w.Severity > active[top].Severity {
				top = i
			}
		}
		res.Reasons = append(res.Reasons, active[top].Reason)
		res.ActiveWindows = active
	}

	if name, open := openSession(cfg.Sessions, in.Instrument, in.Now); open {
		res.Session = name
	} else {
		res.Reasons = append(res.Reasons, ReasonSessionClosed)
	}

	switch {
	case !in.HasTick:
		res.Reasons = append(res.Reasons, ReasonNoTick)
	case in.Tick.Stale:
		res.Reasons = append(res.Reasons, ReasonStaleTick)
	case cfg.maxSpread(in.Instrument) > 0 && in.Tick.Tick.Spread() > cfg.maxSpread(in.Instrument)+1e-12:
		res.Reasons = append(res.Reasons, ReasonSpreadTooWide)
	}

	res.Allowed = len(res.Reasons) == 0
	if !res.Allowed {
		res.Reason = res.Reasons[0]
	}
	return res
}

// TickReader is the slice of the hub the gate reads.
type TickReader interface {
	LatestTick(instrument string) (hub.TickView, bool)
}

// Evaluator binds the pure gate to live inputs.
type Evaluator struct {
	cfg     Config
	windows *WindowIndex
	ticks   TickReader
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg Config, windows *WindowIndex, ticks TickReader) *Evaluator {
	if windows == nil {
		windows = NewWindowIndex()
	}
	return &Evaluator{cfg: cfg, windows: windows, ticks: ticks}
}

// Windows returns the evaluator's window index.
func (e *Evaluator) Windows() *WindowIndex { return e.windows }

// Upcoming lists windows for instrument starting within horizon of now.
func (e *Evaluator) Upcoming(instrument string, now time.Time, horizon time.Duration) []domain.GatingWindow {
	return e.windows.Upcoming(instrument, now, horizon)
}

// Evaluate snapshots the latest tick and active windows, then runs the pure
// gate over them.
func (e *Evaluator) Evaluate(instrument string, now time.Time) Result {
	in := Inputs{Instrument: instrument, Now: now}
	if e.ticks != nil {
		in.Tick, in.HasTick = e.ticks.LatestTick(instrument)
	}
	in.Windows = e.windows.Active(instrument, now)
	res := Evaluate(e.cfg, in)
	if !res.Allowed {
		metrics.GateDenials.WithLabelValues(denialLabel(res.Reason)).Inc()
	}
	return res
}

func denialLabel(reason string) string {
	switch reason {
	case ReasonSessionClosed, ReasonNoTick, ReasonStaleTick, ReasonSpreadTooWide:
		return reason
	}
	return "news"
}

// Emergency reports whether an active window now covers instrument, which
// forces open positions closed.
func (e *Evaluator) Emergency(instrument string, now time.Time) (domain.GatingWindow, bool) {
	active := e.windows.Active(instrument, now)
	if len(active) == 0 {
		return domain.GatingWindow{}, false
	}
	return active[0], true
}
