package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docchunk/internal/doctree"
	"github.com/dgallion1/docchunk/internal/metrics"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrStoreDisabled is returned when records should be stored but no vector
// store is configured.
var ErrStoreDisabled = errors.New("vector store not configured")

// OrchestratorConfig sizes the batch job runner.
type OrchestratorConfig struct {
	WorkerCount        int
	MaxQueueSize       int
	MaxConcurrentStore int
	JobTTL             time.Duration
	CleanupInterval    time.Duration
}

// Orchestrator runs directory batches as asynchronous jobs.
type Orchestrator struct {
	jobs  *JobStore
	queue chan *Job
	pipe  *Pipeline
	store Store
	log   *slog.Logger
	cfg   OrchestratorConfig

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewOrchestrator creates the runner. A nil store disables storing.
func NewOrchestrator(cfg OrchestratorConfig, pipe *Pipeline, store Store, log *slog.Logger) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	return &Orchestrator{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		pipe:  pipe,
		store: store,
		log:   log,
		cfg:   cfg,
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
			w := NewWorker(o.pipe, o.store, o.log, o.cfg.MaxConcurrentStore)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					metrics.JobsQueued.Set(float64(len(o.queue)))
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.CleanupInterval)
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

// Stop cancels running jobs and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		close(o.queue)
		o.wg.Wait()
	})
}

// Submit queues a directory batch.
func (o *Orchestrator) Submit(req BatchRequest) (*Job, error) {
	if req.Store && o.store == nil {
		return nil, ErrStoreDisabled
	}
	job := NewJob(req)
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		metrics.JobsQueued.Set(float64(len(o.queue)))
		return job, nil
	default:
		job.AddError("queue full")
		job.SetStatus(StatusFailed, "queue_full")
		return job, fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// CancelJob requests cancellation of a job. found is false for unknown IDs;
// cancelled is false when the job had already finished.
func (o *Orchestrator) CancelJob(id string) (found, cancelled bool) {
	job := o.jobs.Get(id)
	if job == nil {
		return false, false
	}
	return true, job.Cancel()
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Pipeline returns the pipeline jobs run on, for synchronous ingestion by
// API handlers.
func (o *Orchestrator) Pipeline() *Pipeline {
	return o.pipe
}

// StoreEnabled reports whether a vector store is configured.
func (o *Orchestrator) StoreEnabled() bool {
	return o.store != nil
}

// Store forwards records to the vector store with retries.
func (o *Orchestrator) Store(ctx context.Context, records []doctree.ChunkRecord) (int, error) {
	if o.store == nil {
		return 0, ErrStoreDisabled
	}
	return storeWithRetry(ctx, o.store, records, o.log)
}
