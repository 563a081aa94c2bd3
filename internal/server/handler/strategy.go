package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/strategy"
)

// DetectorLister reports the registered setup detectors.
type DetectorLister interface {
	ListInfo() []strategy.DetectorInfo
}

// SetupLister reports recently detected setups.
type SetupLister interface {
	RecentSetups(limit int) []domain.Setup
}

// StrategyHandler serves detector and setup endpoints. When the strategy
// engine does not run in this process (ingest or monitor mode), requests
// return 501.
type StrategyHandler struct {
	detectors DetectorLister
	setups    SetupLister
	logger    *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler. Either argument may be nil.
func NewStrategyHandler(detectors DetectorLister, setups SetupLister, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{detectors: detectors, setups: setups, logger: logHandler(logger, "strategy")}
}

// ListDetectors returns the registered detectors with their counters.
// GET /api/detectors
func (h *StrategyHandler) ListDetectors(w http.ResponseWriter, r *http.Request) {
	if h.detectors == nil {
		writeError(w, http.StatusNotImplemented, "strategy engine not running in this mode")
		return
	}
	info := h.detectors.ListInfo()
	if info == nil {
		info = []strategy.DetectorInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectors": info})
}

// ListSetups returns the most recent setups, newest first.
// GET /api/setups?limit=
func (h *StrategyHandler) ListSetups(w http.ResponseWriter, r *http.Request) {
	if h.setups == nil {
		writeError(w, http.StatusNotImplemented, "strategy engine not running in this mode")
		return
	}
	setups := h.setups.RecentSetups(parseLimit(r, 20, 200))
	if setups == nil {
		setups = []domain.Setup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"setups": setups})
}
