package hub

import (
	"context"
	"sync/atomic"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Kind names the slot an update touched.
type Kind string

const (
	KindTick      Kind = "tick"
	KindCandle    Kind = "candle"
	KindOrderFlow Kind = "orderflow"
)

// Update describes one accepted push. Origin is empty for local pushes and
// holds the remote process id for mirrored ones.
type Update struct {
	Kind   Kind                      `json:"kind"`
	Origin string                    `json:"origin,omitempty"`
	Tick   *domain.Tick              `json:"tick,omitempty"`
	Candle *domain.Candle            `json:"candle,omitempty"`
	Flow   *domain.OrderFlowSnapshot `json:"flow,omitempty"`
}

// Instrument returns the instrument the update belongs to.
func (u Update) Instrument() string {
	switch {
	case u.Tick != nil:
		return u.Tick.Instrument
	case u.Candle != nil:
		return u.Candle.Instrument
	case u.Flow != nil:
		return u.Flow.Instrument
	}
	return ""
}

// Listener is called synchronously after each accepted push, outside every
// record lock. It must not block; wrap slow work in an Async.
type Listener func(Update)

// Subscribe registers l and returns a function that removes it.
func (h *Hub) Subscribe(l Listener) (cancel func()) {
	h.lmu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.lmu.Unlock()
	return func() {
		h.lmu.Lock()
		delete(h.listeners, id)
		h.lmu.Unlock()
	}
}

func (h *Hub) notify(u Update) {
	h.lmu.RLock()
	defer h.lmu.RUnlock()
	for _, l := range h.listeners {
		l(u)
	}
}

// Async decouples a slow consumer from the push path with a bounded queue.
// Updates that do not fit are dropped and counted.
type Async struct {
	ch      chan Update
	fn      func(context.Context, Update)
	dropped atomic.Int64
}

// NewAsync creates an Async with the given queue size.
func NewAsync(buffer int, fn func(context.Context, Update)) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Async{ch: make(chan Update, buffer), fn: fn}
}

// Notify enqueues u without blocking. It satisfies Listener.
func (a *Async) Notify(u Update) {
	select {
	case a.ch <- u:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of updates discarded because the queue was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Run drains the queue until ctx is cancelled.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-a.ch:
			a.fn(ctx, u)
		}
	}
}
