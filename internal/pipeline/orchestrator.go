// Package pipeline runs uploaded files through parsing and ingestion on a
// bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/parentdoc/internal/config"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("pipeline stopped")

// Orchestrator manages the upload pipeline.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	ingester Ingester
	log      *slog.Logger
	cfg      config.Config

	mu      sync.RWMutex
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, ing Ingester, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		ingester: ing,
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
			w := NewWorker(o.ingester, o.log, o.cfg.PDFFallbackPdftotext)
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
	interval := 5 * time.Minute
	if o.cfg.JobTTL > 0 && o.cfg.JobTTL < interval {
		interval = o.cfg.JobTTL
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
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
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		return ErrStopped
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.Fail("queue_full", ErrQueueFull.Error())
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
