package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docchunk/internal/doctree"
)

// Store receives chunk records on behalf of the vector store. The pipeline
// core never calls it; batch jobs and API handlers do.
type Store interface {
	Store(ctx context.Context, records []doctree.ChunkRecord) (int, error)
}

// Worker processes a single directory batch job.
type Worker struct {
	pipe  *Pipeline
	store Store
	log   *slog.Logger

	maxConcurrentStore int
}

func NewWorker(pipe *Pipeline, store Store, log *slog.Logger, maxStore int) *Worker {
	if maxStore <= 0 {
		maxStore = 1
	}
	return &Worker{
		pipe:               pipe,
		store:              store,
		log:                log,
		maxConcurrentStore: maxStore,
	}
}

// Process runs a directory batch and, when requested, stores its records.
func (w *Worker) Process(ctx context.Context, job *Job) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !job.begin(cancel) {
		return
	}
	req := job.Request
	log := w.log.With("job_id", job.ID, "root", req.Root)

	// Phase 1: Ingest
	batch, err := w.pipe.IngestDirectory(ctx, req.Root, req.Pattern, req.Recursive, req.Metadata)
	if batch == nil && err != nil {
		log.Error("directory ingestion failed", "error", err)
		job.AddError(err.Error())
		if isCancellation(err) {
			job.SetStatus(StatusCancelled, "cancelled")
		} else {
			job.SetStatus(StatusFailed, "ingesting")
		}
		return
	}
	job.SetTotalFiles(len(batch))
	for path, r := range batch {
		job.RecordFile(path, r)
	}
	if err != nil {
		log.Info("batch cancelled", "finished_files", len(batch))
		job.SetStatus(StatusCancelled, "cancelled")
		return
	}

	hadErrors := batch.Failed() > 0
	if batch.Succeeded() == 0 && hadErrors {
		job.SetStatus(StatusFailed, "ingesting")
		return
	}

	// Phase 2: Store records with bounded concurrency.
	if req.Store && w.store != nil {
		job.SetStatus(StatusStoring, "storing")
		if !w.storeBatch(ctx, job, batch, log) {
			hadErrors = true
		}
		if ctx.Err() != nil {
			job.SetStatus(StatusCancelled, "cancelled")
			return
		}
	}

	if hadErrors {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}

// storeBatch stores each file's records and reports whether all succeeded.
func (w *Worker) storeBatch(ctx context.Context, job *Job, batch BatchResult, log *slog.Logger) bool {
	type storeResult struct {
		path   string
		stored int
		err    error
	}
	var paths []string
	for _, path := range batch.Paths() {
		if r := batch[path]; r.Err == nil && len(r.Records) > 0 {
			paths = append(paths, path)
		}
	}

	results := make(chan storeResult, len(paths))
	sem := make(chan struct{}, w.maxConcurrentStore)
	for _, path := range paths {
		sem <- struct{}{}
		go func(path string, records []doctree.ChunkRecord) {
			defer func() { <-sem }()
			n, err := storeWithRetry(ctx, w.store, records, log.With("path", path))
			results <- storeResult{path: path, stored: n, err: err}
		}(path, batch[path].Records)
	}

	ok := true
	for range paths {
		r := <-results
		if r.err != nil {
			log.Error("store failed", "path", r.path, "error", r.err)
			job.AddError(fmt.Sprintf("store %s: %s", r.path, r.err))
			ok = false
			continue
		}
		job.AddStored(r.path, r.stored)
	}
	log.Info("storage complete", "files", len(paths), "ok", ok)
	return ok
}
