package pipeline

import (
	"context"
	"errors"
	"log/slog"
)

// Worker processes a single upload job.
type Worker struct {
	ingester *Ingester
	log      *slog.Logger
}

func NewWorker(ingester *Ingester, log *slog.Logger) *Worker {
	return &Worker{ingester: ingester, log: log}
}

// Process runs the ingest pipeline for a job and records every stage on it.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)

	current := StatusQueued
	progress := func(status JobStatus, total, embedded int) {
		if status != current {
			current = status
			job.SetStatus(status, string(status))
		}
		job.SetProgress(total, embedded)
	}

	out, err := w.ingester.ingest(ctx, job.Filename, job.FileData(), job.ContentHash, progress)
	switch {
	case err != nil:
		phase := string(current)
		if errors.Is(err, ErrNoChunks) {
			phase = string(StatusChunking)
		}
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, phase)
		log.Error("job failed", "phase", phase, "error", err)
	case out.Skipped:
		job.SetProgress(out.Chunks, out.Chunks)
		job.SetStatus(StatusSkipped, "unchanged")
		log.Info("job skipped, document unchanged", "chunks", out.Chunks)
	default:
		job.SetStatus(StatusCompleted, "done")
		log.Info("job completed", "chunks", out.Chunks)
	}
}
