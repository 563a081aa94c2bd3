package orderflow

import "time"

type deltaEntry struct {
	at    time.Time
	value float64
}

// slidingSum keeps a running sum over a trailing time window. New entries are
// added and expired ones evicted from the front, so each trade costs O(1)
// amortized.
type slidingSum struct {
	window  time.Duration
	entries []deltaEntry
	head    int
	sum     float64
}

func newSlidingSum(window time.Duration) slidingSum {
	return slidingSum{window: window}
}

func (s *slidingSum) add(at time.Time, v float64) {
	s.entries = append(s.entries, deltaEntry{at: at, value: v})
	s.sum += v
}

// evict removes entries at or before now-window.
func (s *slidingSum) evict(now time.Time) {
	cutoff := now.Add(-s.window)
	for s.head < len(s.entries) && !s.entries[s.head].at.After(cutoff) {
		s.sum -= s.entries[s.head].value
		s.head++
	}
	if s.head == len(s.entries) {
		// Reset rather than let float error accumulate across empty periods.
		s.entries = s.entries[:0]
		s.head = 0
		s.sum = 0
		return
	}
	if s.head > 1024 && s.head*2 > len(s.entries) {
		n := copy(s.entries, s.entries[s.head:])
		s.entries = s.entries[:n]
		s.head = 0
	}
}

func (s *slidingSum) value(now time.Time) float64 {
	s.evict(now)
	return s.sum
}

func (s *slidingSum) len() int { return len(s.entries) - s.head }

// sessionVWAP accumulates price×size since the current session anchor. When
// no traded size has been seen it falls back to a time-weighted average of
// the book mid, labelled proxy. Mids are observed on book changes only, so
// reading the value never moves it.
type sessionVWAP struct {
	anchor time.Time
	pv, v  float64

	// proxyPV is Σ mid·seconds over closed mid intervals.
	proxyPV  float64
	proxyDur float64
	mid      float64
	midAt    time.Time
	hasMid   bool
}

// roll starts a new session at anchor. The standing mid carries over from
// the anchor onward.
func (w *sessionVWAP) roll(anchor time.Time) {
	if anchor.Equal(w.anchor) {
		return
	}
	mid, at, has := w.mid, w.midAt, w.hasMid
	if at.Before(anchor) {
		at = anchor
	}
	*w = sessionVWAP{anchor: anchor, mid: mid, midAt: at, hasMid: has}
}

func (w *sessionVWAP) addTrade(price, size float64) {
	w.pv += price * size
	w.v += size
}

// observeMid closes the interval held by the previous mid at ts and makes
// mid the standing value.
func (w *sessionVWAP) observeMid(ts time.Time, mid float64) {
	if w.hasMid && ts.After(w.midAt) {
		secs := ts.Sub(w.midAt).Seconds()
		w.proxyPV += w.mid * secs
		w.proxyDur += secs
		w.midAt = ts
	} else if !w.hasMid {
		w.midAt = ts
	}
	w.mid = mid
	w.hasMid = true
}

// value returns the VWAP as of now, whether it is backed by real volume,
// and whether any value exists. anchor is the session anchor for now; a
// session that has not been rolled into yet reports only the standing mid.
func (w *sessionVWAP) value(anchor, now time.Time) (float64, bool, bool) {
	if !anchor.Equal(w.anchor) {
		return w.mid, false, w.hasMid
	}
	if w.v > 0 {
		return w.pv / w.v, true, true
	}
	if !w.hasMid {
		return 0, false, false
	}
	pv, dur := w.proxyPV, w.proxyDur
	if now.After(w.midAt) {
		secs := now.Sub(w.midAt).Seconds()
		pv += w.mid * secs
		dur += secs
	}
	if dur <= 0 {
		return w.mid, false, true
	}
	return pv / dur, false, true
}
