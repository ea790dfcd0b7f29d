package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a directory batch job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusStoring   JobStatus = "storing"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// BatchRequest describes a directory ingestion.
type BatchRequest struct {
	Root      string         `json:"root"`
	Pattern   string         `json:"pattern"`
	Recursive bool           `json:"recursive"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Store     bool           `json:"store"` // Forward records to the vector store.
}

// Job tracks the state of one directory batch.
type Job struct {
	mu sync.Mutex

	ID      string       `json:"job_id"`
	Request BatchRequest `json:"request"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Progress Progress  `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	files           map[string]FileSummary
	errors          []string
	cancel          context.CancelFunc
	cancelRequested bool
}

// Progress tracks processing progress.
type Progress struct {
	TotalFiles     int      `json:"total_files"`
	FilesSucceeded int      `json:"files_succeeded"`
	FilesFailed    int      `json:"files_failed"`
	Chunks         int      `json:"chunks"`
	RecordsStored  int      `json:"records_stored"`
	Errors         []string `json:"errors"`
}

// FileSummary is the per-file view of a batch outcome.
type FileSummary struct {
	Chunks   int    `json:"chunks"`
	Warnings int    `json:"warnings"`
	Stored   int    `json:"stored"`
	Error    string `json:"error,omitempty"`
}

// NewJob returns a queued job for req.
func NewJob(req BatchRequest) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
		files:     make(map[string]FileSummary),
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs not updated within the TTL. Queued and
// running jobs are kept regardless of age.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetTotalFiles records the number of files found.
func (j *Job) SetTotalFiles(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalFiles = n
	j.UpdatedAt = time.Now()
}

// RecordFile adds one file's batch outcome.
func (j *Job) RecordFile(path string, r FileResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sum := FileSummary{Chunks: len(r.Records), Warnings: len(r.Warnings)}
	if r.Err != nil {
		sum.Error = r.Err.Error()
		j.Progress.FilesFailed++
	} else {
		j.Progress.FilesSucceeded++
		j.Progress.Chunks += len(r.Records)
	}
	j.files[path] = sum
	j.UpdatedAt = time.Now()
}

// AddStored records n records stored for path.
func (j *Job) AddStored(path string, n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	sum := j.files[path]
	sum.Stored += n
	j.files[path] = sum
	j.Progress.RecordsStored += n
	j.UpdatedAt = time.Now()
}

// begin marks the job running under cancel. It returns false when the job
// was cancelled before a worker picked it up.
func (j *Job) begin(cancel context.CancelFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelRequested {
		return false
	}
	j.cancel = cancel
	j.Status = StatusRunning
	j.Phase = "ingesting"
	j.UpdatedAt = time.Now()
	return true
}

// Cancel requests cooperative cancellation. A queued job is cancelled
// immediately; a running job stops before its next file. It returns false
// when the job had already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return false
	}
	j.cancelRequested = true
	if j.cancel != nil {
		j.cancel()
	}
	if j.Status == StatusQueued {
		j.Status = StatusCancelled
		j.Phase = "cancelled"
	}
	j.UpdatedAt = time.Now()
	return true
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string                 `json:"job_id"`
	Request   BatchRequest           `json:"request"`
	Status    JobStatus              `json:"status"`
	Phase     string                 `json:"phase"`
	Progress  Progress               `json:"progress"`
	Files     map[string]FileSummary `json:"files"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	files := make(map[string]FileSummary, len(j.files))
	for k, v := range j.files {
		files[k] = v
	}
	progress := j.Progress
	progress.Errors = errs
	return JobSnapshot{
		ID:        j.ID,
		Request:   j.Request,
		Status:    j.Status,
		Phase:     j.Phase,
		Progress:  progress,
		Files:     files,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
