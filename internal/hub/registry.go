package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// Registry is the locator for the one Hub of a process. The instance is
// built lazily on first use; Attach and Detach only track handles and never
// construct anything.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	once sync.Once
	hub  *Hub

	mu      sync.Mutex
	handles map[string]int
}

// NewRegistry returns a registry that will build its hub from cfg.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	return &Registry{cfg: cfg, logger: logger, handles: make(map[string]int)}
}

// Locate returns the process-wide hub, constructing it on the first call.
func (r *Registry) Locate() *Hub {
	r.once.Do(func() {
		r.hub = newHub(r.cfg, r.logger)
		r.logger.Info("hub: instance created",
			slog.Int("candle_capacity", r.cfg.CandleCapacity),
			slog.Duration("tick_ttl", r.cfg.TickTTL),
		)
	})
	return r.hub
}

// Attach returns a handle to the shared hub for a named producer or
// consumer.
func (r *Registry) Attach(name string) *Handle {
	h := r.Locate()
	r.mu.Lock()
	r.handles[name]++
	n := len(r.handles)
	r.mu.Unlock()
	r.logger.Debug("hub: attached", slog.String("client", name), slog.Int("clients", n))
	return &Handle{Hub: h, name: name, reg: r}
}

// Clients returns the names with at least one live handle.
func (r *Registry) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for k := range r.handles {
		out = append(out, k)
	}
	return out
}

func (r *Registry) detach(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[name] <= 1 {
		delete(r.handles, name)
		return
	}
	r.handles[name]--
}

// Handle is a client's connection to the shared hub. After Detach, pushes
// through the handle are refused; the hub itself is unaffected.
type Handle struct {
	*Hub
	name     string
	reg      *Registry
	detached atomic.Bool
}

// Name returns the client name the handle was attached with.
func (h *Handle) Name() string { return h.name }

// Detach releases the handle. It is safe to call more than once.
func (h *Handle) Detach() {
	if h.detached.CompareAndSwap(false, true) {
		h.reg.detach(h.name)
	}
}

// PushTick forwards to the shared hub while the handle is attached.
func (h *Handle) PushTick(t domain.Tick) bool {
	if h.detached.Load() {
		return false
	}
	return h.Hub.PushTick(t)
}

// PushCandle forwards to the shared hub while the handle is attached.
func (h *Handle) PushCandle(c domain.Candle) bool {
	if h.detached.Load() {
		return false
	}
	return h.Hub.PushCandle(c)
}

// PushOrderFlow forwards to the shared hub while the handle is attached.
func (h *Handle) PushOrderFlow(s domain.OrderFlowSnapshot) bool {
	if h.detached.Load() {
		return false
	}
	return h.Hub.PushOrderFlow(s)
}

// CandleSource is the warm-start query of the durable candle store.
type CandleSource interface {
	LoadRecentCandles(ctx context.Context, instrument string, timeframe time.Duration, limit int) ([]domain.Candle, error)
}

// Seed pre-populates the hub from src. It is best effort: failures and empty
// results are logged and never returned.
func (h *Hub) Seed(ctx context.Context, src CandleSource, instruments []string, timeframe time.Duration, limit int) int {
	if src == nil {
		return 0
	}
	total := 0
	for _, inst := range instruments {
		bars, err := src.LoadRecentCandles(ctx, inst, timeframe, limit)
		if err != nil {
			h.logger.WarnContext(ctx, "hub: warm-start load failed",
				slog.String("instrument", inst),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, c := range bars {
			if h.applyCandle(c, "seed") {
				total++
			}
		}
		h.logger.InfoContext(ctx, "hub: warm-start seeded",
			slog.String("instrument", inst),
			slog.Int("candles", len(bars)),
		)
	}
	return total
}
