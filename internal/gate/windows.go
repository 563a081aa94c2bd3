package gate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// WindowIndex holds gating windows ordered by start time. Since no window is
// longer than the longest one seen, the windows covering t all start within
// [t-maxLen, t], so a lookup is one ordered range scan: O(log n + k).
type WindowIndex struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[domain.GatingWindow]
	byID   map[string]domain.GatingWindow
	maxLen time.Duration
}

func lessWindow(a, b domain.GatingWindow) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

// NewWindowIndex returns an empty index.
func NewWindowIndex() *WindowIndex {
	return &WindowIndex{
		tree: btree.NewBTreeG(lessWindow),
		byID: make(map[string]domain.GatingWindow),
	}
}

// Add inserts w, replacing any window with the same ID.
func (x *WindowIndex) Add(w domain.GatingWindow) error {
	if w.ID == "" {
		return fmt.Errorf("gate: window without id")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("gate: window %s: end %s not after start %s", w.ID, w.End, w.Start)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.byID[w.ID]; ok {
		x.tree.Delete(old)
	}
	x.tree.Set(w)
	x.byID[w.ID] = w
	if d := w.End.Sub(w.Start); d > x.maxLen {
		x.maxLen = d
	}
	return nil
}

// Remove deletes the window with id.
func (x *WindowIndex) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	w, ok := x.byID[id]
	if !ok {
		return false
	}
	x.tree.Delete(w)
	delete(x.byID, id)
	return true
}

// Active returns the windows covering (instrument, now), most severe first.
func (x *WindowIndex) Active(instrument string, now time.Time) []domain.GatingWindow {
	x.mu.RLock()
	var out []domain.GatingWindow
	pivot := domain.GatingWindow{Start: now.Add(-x.maxLen)}
	x.tree.Ascend(pivot, func(w domain.GatingWindow) bool {
		if w.Start.After(now) {
			return false
		}
		if w.Covers(instrument, now) {
			out = append(out, w)
		}
		return true
	})
	x.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].End.After(out[j].End)
	})
	return out
}

// Upcoming returns windows for instrument that start in (now, now+horizon].
func (x *WindowIndex) Upcoming(instrument string, now time.Time, horizon time.Duration) []domain.GatingWindow {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []domain.GatingWindow
	x.tree.Ascend(domain.GatingWindow{Start: now}, func(w domain.GatingWindow) bool {
		if w.Start.After(now.Add(horizon)) {
			return false
		}
		if w.Start.After(now) && w.Applies(instrument) {
			out = append(out, w)
		}
		return true
	})
	return out
}

// Prune drops windows that ended at or before t and returns how many.
func (x *WindowIndex) Prune(t time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	var expired []domain.GatingWindow
	x.tree.Scan(func(w domain.GatingWindow) bool {
		if w.Start.After(t) {
			return false
		}
		if !w.End.After(t) {
			expired = append(expired, w)
		}
		return true
	})
	for _, w := range expired {
		x.tree.Delete(w)
		delete(x.byID, w.ID)
	}
	return len(expired)
}

// Len returns the number of indexed windows.
func (x *WindowIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tree.Len()
}

// FromEvent builds the blackout windows for a calendar event: one per listed
// instrument, or a single all-instrument window when none are listed.
func FromEvent(ev domain.CalendarEvent, pre, post time.Duration, reason string) []domain.GatingWindow {
	if reason == "" {
		reason = ev.Title
	}
	scopes := ev.Instruments
	if len(scopes) == 0 {
		scopes = []string{domain.ScopeAll}
	}
	out := make([]domain.GatingWindow, 0, len(scopes))
	for _, scope := range scopes {
		out = append(out, domain.GatingWindow{
			ID:       ev.ID + ":" + scope,
			Scope:    scope,
			Start:    ev.Time.Add(-pre),
			End:      ev.Time.Add(post),
			Reason:   reason,
			Severity: ev.Severity,
		})
	}
	return out
}
