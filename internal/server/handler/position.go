package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/lifecycle"
)

// LivePositions is the in-process view held by the lifecycle manager.
type LivePositions interface {
	Positions() []domain.PositionRecord
	History(limit int) []domain.PositionRecord
}

// RiskReader exposes the portfolio counters.
type RiskReader interface {
	Stats(now time.Time) lifecycle.LedgerStats
}

// PositionHandler serves read-only position endpoints. In trade and full
// modes it answers from the lifecycle manager; otherwise it falls back to the
// position store. Either source may be nil, not both.
type PositionHandler struct {
	live   LivePositions
	risk   RiskReader
	store  domain.PositionStore
	now    func() time.Time
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(live LivePositions, risk RiskReader, store domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		live:   live,
		risk:   risk,
		store:  store,
		now:    time.Now,
		logger: logHandler(logger, "position"),
	}
}

type listPositionsResponse struct {
	Positions []domain.PositionRecord `json:"positions"`
	Risk      *lifecycle.LedgerStats  `json:"risk,omitempty"`
}

// ListPositions returns the open positions.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var resp listPositionsResponse
	switch {
	case h.live != nil:
		resp.Positions = h.live.Positions()
	case h.store != nil:
		open, err := h.store.GetOpen(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list positions failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list positions")
			return
		}
		resp.Positions = open
	default:
		writeError(w, http.StatusNotImplemented, "positions not available in this mode")
		return
	}
	if h.risk != nil {
		stats := h.risk.Stats(h.now())
		resp.Risk = &stats
	}
	if resp.Positions == nil {
		resp.Positions = []domain.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListHistory returns closed positions, newest first. The store honours
// since/until/offset; the in-process fallback only honours limit.
// GET /api/positions/history?limit=&offset=&since=&until=
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var closed []domain.PositionRecord
	switch {
	case h.store != nil:
		closed, err = h.store.ListHistory(r.Context(), opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list history failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list position history")
			return
		}
	case h.live != nil:
		closed = h.live.History(opts.Limit)
	default:
		writeError(w, http.StatusNotImplemented, "positions not available in this mode")
		return
	}
	if closed == nil {
		closed = []domain.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": closed})
}

// GetPosition returns one position by id from the store.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "position store not configured")
		return
	}
	id := r.PathValue("id")
	pos, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position "+id+" not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
