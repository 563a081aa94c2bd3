package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
	"github.com/alanyoungcy/scalpcore/internal/hub"
)

// MarketReader is the read side of the market data hub.
type MarketReader interface {
	Instruments() []string
	LatestTick(instrument string) (hub.TickView, bool)
	RecentTicks(instrument string, limit int) []domain.Tick
	Candles(instrument, source string, timeframe time.Duration, limit int) hub.CandleView
	LatestOrderFlow(instrument string) (hub.FlowView, bool)
}

// MarketHandler serves the hub pull API.
type MarketHandler struct {
	market        MarketReader
	baseTimeframe time.Duration
	logger        *slog.Logger
}

// NewMarketHandler creates a MarketHandler. baseTimeframe is used when a
// candle request names no timeframe.
func NewMarketHandler(market MarketReader, baseTimeframe time.Duration, logger *slog.Logger) *MarketHandler {
	if baseTimeframe <= 0 {
		baseTimeframe = time.Minute
	}
	return &MarketHandler{
		market:        market,
		baseTimeframe: baseTimeframe,
		logger:        logHandler(logger, "market"),
	}
}

// ListInstruments returns every instrument the hub holds data for.
// GET /api/instruments
func (h *MarketHandler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := h.market.Instruments()
	if instruments == nil {
		instruments = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": instruments})
}

type tickResponse struct {
	hub.TickView
	Recent []domain.Tick `json:"recent,omitempty"`
}

// GetTick returns the latest tick and, with ?recent=N, up to N recent ticks.
// GET /api/ticks/{instrument}
func (h *MarketHandler) GetTick(w http.ResponseWriter, r *http.Request) {
	instrument := instrumentParam(r)
	view, ok := h.market.LatestTick(instrument)
	if !ok {
		writeError(w, http.StatusNotFound, "no tick for "+instrument)
		return
	}
	resp := tickResponse{TickView: view}
	if r.URL.Query().Has("recent") {
		resp.Recent = h.market.RecentTicks(instrument, parseLimitParam(r, "recent", 100, 1000))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCandles returns the newest candles, oldest first. An empty source
// applies the source-priority merge.
// GET /api/candles/{instrument}?source=&timeframe=&limit=
func (h *MarketHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	instrument := instrumentParam(r)
	q := r.URL.Query()

	timeframe := h.baseTimeframe
	if v := q.Get("timeframe"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid timeframe "+v)
			return
		}
		timeframe = d
	}

	view := h.market.Candles(instrument, q.Get("source"), timeframe, parseLimit(r, 100, 1000))
	if view.Candles == nil {
		view.Candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, view)
}

// GetOrderFlow returns the latest order-flow snapshot.
// GET /api/orderflow/{instrument}
func (h *MarketHandler) GetOrderFlow(w http.ResponseWriter, r *http.Request) {
	instrument := instrumentParam(r)
	view, ok := h.market.LatestOrderFlow(instrument)
	if !ok {
		writeError(w, http.StatusNotFound, "no order flow for "+instrument)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
