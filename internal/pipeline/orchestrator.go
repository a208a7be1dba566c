package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/regcheck/internal/config"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// Orchestrator runs uploaded documents through the Ingester on a fixed
// worker pool.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	ingester *Ingester
	log      *slog.Logger
	cfg      config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// NewOrchestrator creates the pipeline. Call Start to launch the workers.
func NewOrchestrator(cfg config.Config, ingester *Ingester, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		ingester: ingester,
		log:      log,
		cfg:      cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.ingester, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	o.stop.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		close(o.queue)
		o.wg.Wait()
	})
}

// Submit registers an upload and queues it for processing.
func (o *Orchestrator) Submit(filename string, data []byte) (*Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	now := time.Now()
	job := &Job{
		ID:        id.String(),
		Filename:  filename,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.SetFileData(data)
	job.SetContentHash(ContentHashHex(data))

	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "filename", filename, "bytes", len(data))
		return job, nil
	default:
		job.AddError("queue full")
		job.SetStatus(StatusFailed, "queued")
		return job, fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// Jobs lists every tracked job, newest first.
func (o *Orchestrator) Jobs() []JobSnapshot {
	return o.jobs.List()
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
