package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// PositionRecorder persists lifecycle events to the position store and
// appends an audit entry for each. It satisfies lifecycle.EventHandler.
type PositionRecorder struct {
	positions domain.PositionStore
	audit     domain.AuditStore
}

// NewPositionRecorder creates a recorder. audit may be nil.
func NewPositionRecorder(positions domain.PositionStore, audit domain.AuditStore) *PositionRecorder {
	return &PositionRecorder{positions: positions, audit: audit}
}

// HandlePositionEvent writes the event. A replayed event for a position
// already in the terminal state is not an error.
func (r *PositionRecorder) HandlePositionEvent(ctx context.Context, ev domain.PositionEvent) error {
	var err error
	switch ev.Type {
	case domain.PositionOpened:
		err = r.positions.Create(ctx, ev.Position)
		if errors.Is(err, domain.ErrAlreadyExists) {
			err = nil
		}
	case domain.PositionClosed:
		err = r.positions.Close(ctx, ev.Position)
		if errors.Is(err, domain.ErrAlreadyClosed) {
			err = nil
		}
	default:
		return fmt.Errorf("pipeline: unknown position event %q", ev.Type)
	}
	if err != nil {
		return fmt.Errorf("pipeline: record %s: %w", ev.Type, err)
	}

	if r.audit == nil {
		return nil
	}
	p := ev.Position
	detail := map[string]any{
		"position_id": p.ID,
		"instrument":  p.Instrument,
		"direction":   string(p.Direction),
		"setup":       p.Setup,
		"entry_price": p.EntryPrice,
		"size":        p.Size,
	}
	if ev.Type == domain.PositionClosed {
		detail["close_reason"] = string(p.CloseReason)
		detail["exit_price"] = p.ExitPrice
		detail["realized_pnl"] = p.RealizedPnL.String()
	}
	if err := r.audit.Log(ctx, string(ev.Type), detail); err != nil {
		return fmt.Errorf("pipeline: audit %s: %w", ev.Type, err)
	}
	return nil
}
