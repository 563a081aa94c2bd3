package hub

import (
	"sort"
	"time"
)

// window is a fixed-capacity sequence ordered by key time. Appends at the
// tail are O(1) amortized; an entry whose key already exists is overwritten
// in place, and the oldest entry is evicted once capacity is exceeded.
type window[T any] struct {
	capacity int
	key      func(T) time.Time
	items    []T
}

func newWindow[T any](capacity int, key func(T) time.Time) *window[T] {
	return &window[T]{capacity: capacity, key: key, items: make([]T, 0, capacity)}
}

// upsert stores v and reports whether it was kept. An entry older than
// everything in a full window is rejected since it would be evicted at once.
func (w *window[T]) upsert(v T) bool {
	k := w.key(v)
	n := len(w.items)
	if n == 0 || k.After(w.key(w.items[n-1])) {
		w.items = append(w.items, v)
		w.evict()
		return true
	}
	i := sort.Search(n, func(i int) bool { return !w.key(w.items[i]).Before(k) })
	if i < n && w.key(w.items[i]).Equal(k) {
		w.items[i] = v
		return true
	}
	if i == 0 && n >= w.capacity {
		return false
	}
	var zero T
	w.items = append(w.items, zero)
	copy(w.items[i+1:], w.items[i:])
	w.items[i] = v
	w.evict()
	return true
}

func (w *window[T]) evict() {
	if over := len(w.items) - w.capacity; over > 0 {
		w.items = w.items[over:]
	}
}

// last copies out the newest limit entries, oldest first. A non-positive
// limit returns everything.
func (w *window[T]) last(limit int) []T {
	n := len(w.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]T, limit)
	copy(out, w.items[n-limit:])
	return out
}

func (w *window[T]) newest() (T, bool) {
	if len(w.items) == 0 {
		var zero T
		return zero, false
	}
	return w.items[len(w.items)-1], true
}

func (w *window[T]) len() int { return len(w.items) }
