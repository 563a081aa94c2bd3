package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/gate"
)

// GateReader evaluates the entry gate and lists scheduled windows.
type GateReader interface {
	Evaluate(instrument string, now time.Time) gate.Result
	Upcoming(instrument string, now time.Time, horizon time.Duration) []domain.GatingWindow
}

// GateHandler serves the entry gate decision for an instrument.
type GateHandler struct {
	gate   GateReader
	now    func() time.Time
	logger *slog.Logger
}

// NewGateHandler creates a GateHandler.
func NewGateHandler(g GateReader, logger *slog.Logger) *GateHandler {
	return &GateHandler{gate: g, now: time.Now, logger: logHandler(logger, "gate")}
}

type gateResponse struct {
	Instrument string                `json:"instrument"`
	At         time.Time             `json:"at"`
	Result     gate.Result           `json:"result"`
	Upcoming   []domain.GatingWindow `json:"upcoming"`
}

// GetGate returns whether a new entry would be allowed right now, with the
// windows that start within ?horizon= (default 4h).
// GET /api/gate/{instrument}
func (h *GateHandler) GetGate(w http.ResponseWriter, r *http.Request) {
	instrument := instrumentParam(r)
	horizon := 4 * time.Hour
	if v := r.URL.Query().Get("horizon"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid horizon "+v)
			return
		}
		horizon = d
	}

	now := h.now().UTC()
	resp := gateResponse{
		Instrument: instrument,
		At:         now,
		Result:     h.gate.Evaluate(instrument, now),
		Upcoming:   h.gate.Upcoming(instrument, now, horizon),
	}
	if resp.Upcoming == nil {
		resp.Upcoming = []domain.GatingWindow{}
	}
	writeJSON(w, http.StatusOK, resp)
}
