// Package pipeline persists and ages market and position data: batched
// candle writes, position event recording and cold-storage archival.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the persistence goroutines. Either part may be nil.
type Orchestrator struct {
	writer      *CandleWriter
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(writer *CandleWriter, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		writer:      writer,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or a sub-pipeline fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "pipeline: starting",
		slog.Bool("candle_writer", o.writer != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, gctx := errgroup.WithContext(ctx)
	if o.writer != nil {
		g.Go(func() error {
			return clean(gctx, "candle writer", o.writer.Run(gctx))
		})
	}
	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			return clean(gctx, "archiver", o.archiver.RunCron(gctx, o.archiveCron))
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline: stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline: stopped")
	return nil
}

// clean treats a cancellation-caused return as a clean shutdown.
func clean(ctx context.Context, name string, err error) error {
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	return fmt.Errorf("pipeline: %s: %w", name, err)
}
