package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the process mode and uptime.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	Clients   func() []string
}

// NewStatusHandler creates a StatusHandler. clients lists the producers
// attached to the hub and may be nil.
func NewStatusHandler(mode string, startedAt time.Time, clients func() []string) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, Clients: clients}
}

// GetStatus responds with the current mode, uptime and attached producers.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	clients := []string{}
	if h.Clients != nil {
		if c := h.Clients(); c != nil {
			clients = c
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"hub_clients":    clients,
	})
}
