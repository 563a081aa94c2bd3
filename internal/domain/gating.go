package domain

import "time"

// ScopeAll is the instrument scope that matches every instrument.
const ScopeAll = "*"

// WindowState is derived from wall-clock time, never stored.
type WindowState string

const (
	WindowScheduled WindowState = "scheduled"
	WindowActive    WindowState = "active"
	WindowExpired   WindowState = "expired"
)

// GatingWindow is a half-open interval [Start, End) during which new entries
// are blocked for Scope.
type GatingWindow struct {
	ID       string    `json:"id"`
	Scope    string    `json:"scope"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Reason   string    `json:"reason"`
	Severity int       `json:"severity"`
}

// State reports the window's lifecycle state at now.
func (w GatingWindow) State(now time.Time) WindowState {
	switch {
	case now.Before(w.Start):
		return WindowScheduled
	case now.Before(w.End):
		return WindowActive
	default:
		return WindowExpired
	}
}

// Applies reports whether the window's scope includes instrument.
func (w GatingWindow) Applies(instrument string) bool {
	return w.Scope == ScopeAll || w.Scope == "" || w.Scope == instrument
}

// Covers reports whether the window is active for instrument at now.
func (w GatingWindow) Covers(instrument string, now time.Time) bool {
	return w.Applies(instrument) && w.State(now) == WindowActive
}

// CalendarEvent is a scheduled release that spawns a gating window.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Time        time.Time `json:"time"`
	Severity    int       `json:"severity"`
	Instruments []string  `json:"instruments"`
}
