package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// ArchiveTrigger requests an out-of-schedule archive run.
type ArchiveTrigger interface {
	Trigger() bool
}

// PipelineHandler serves archive endpoints.
type PipelineHandler struct {
	trigger ArchiveTrigger
	blobs   domain.BlobReader
	logger  *slog.Logger
}

// NewPipelineHandler creates a PipelineHandler. Either dependency may be
// nil when archival is disabled.
func NewPipelineHandler(trigger ArchiveTrigger, blobs domain.BlobReader, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{trigger: trigger, blobs: blobs, logger: logHandler(logger, "pipeline")}
}

// TriggerArchive enqueues one archive run. A request made while another is
// still pending is coalesced into it.
// POST /api/archive/trigger
func (h *PipelineHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusNotImplemented, "archiver not configured")
		return
	}
	queued := h.trigger.Trigger()
	h.logger.InfoContext(r.Context(), "handler: archive trigger requested", slog.Bool("queued", queued))
	status := "accepted"
	if !queued {
		status = "already_pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       status,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchive lists archived objects under ?prefix= (default "archive/").
// GET /api/archive
func (h *PipelineHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotImplemented, "object storage not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list archive")
		return
	}
	limit := parseLimit(r, 500, 5000)
	if len(infos) > limit {
		infos = infos[len(infos)-limit:]
	}
	out := make([]archiveObject, 0, len(infos))
	for _, b := range infos {
		out = append(out, archiveObject{Path: b.Path, Size: b.Size, LastModified: b.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": out})
}
