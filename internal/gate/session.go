package gate

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Session is a daily trading interval on the UTC clock. End before Start
// wraps past midnight. An empty Instruments list applies to every
// instrument; Weekdays empty means every day.
type Session struct {
	Name        string
	Start       time.Duration
	End         time.Duration
	Instruments []string
	Weekdays    []time.Weekday
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("gate: clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("gate: clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("gate: clock %q: bad minute", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Applies reports whether the session governs instrument.
func (s Session) Applies(instrument string) bool {
	return len(s.Instruments) == 0 || slices.Contains(s.Instruments, instrument)
}

// Contains reports whether now falls inside the session for instrument.
func (s Session) Contains(instrument string, now time.Time) bool {
	if !s.Applies(instrument) {
		return false
	}
	now = now.UTC()
	day := now.Truncate(24 * time.Hour)
	tod := now.Sub(day)

	if s.End > s.Start {
		return tod >= s.Start && tod < s.End && s.onDay(now.Weekday())
	}
	// Overnight: the part after Start belongs to today, the part before End
	// to the session that opened yesterday.
	if tod >= s.Start {
		return s.onDay(now.Weekday())
	}
	if tod < s.End {
		return s.onDay(day.Add(-time.Hour).Weekday())
	}
	return false
}

func (s Session) onDay(d time.Weekday) bool {
	return len(s.Weekdays) == 0 || slices.Contains(s.Weekdays, d)
}

// openSession returns the first session open for instrument at now. With no
// sessions configured for the instrument at all, trading is unrestricted.
func openSession(sessions []Session, instrument string, now time.Time) (string, bool) {
	governed := false
	for _, s := range sessions {
		if !s.Applies(instrument) {
			continue
		}
		governed = true
		if s.Contains(instrument, now) {
			return s.Name, true
		}
	}
	return "", !governed
}
