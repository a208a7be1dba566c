package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// JobStatus represents the state of an upload ingestion job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusParsing   JobStatus = "parsing"
	StatusChunking  JobStatus = "chunking"
	StatusEmbedding JobStatus = "embedding"
	StatusStoring   JobStatus = "storing"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
)

// Terminal reports whether no further transitions happen after s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Job tracks the state of a single uploaded document.
type Job struct {
	mu sync.Mutex

	ID       string    `json:"job_id"`
	Filename string    `json:"filename"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks    int      `json:"total_chunks"`
	ChunksEmbedded int      `json:"chunks_embedded"`
	Errors         []string `json:"errors"`
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

// List returns snapshots of all jobs, newest first.
func (s *JobStore) List() []JobSnapshot {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Cleanup removes jobs that finished more than ttl ago. Jobs still in
// flight are kept.
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
	if status.Terminal() {
		j.fileData = nil
	}
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetProgress records chunk totals while the job embeds.
func (j *Job) SetProgress(total, embedded int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = total
	j.Progress.ChunksEmbedded = embedded
	j.UpdatedAt = time.Now()
}

// SetContentHash records the digest of the uploaded bytes.
func (j *Job) SetContentHash(h string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = h
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Filename    string    `json:"filename"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Progress    Progress  `json:"progress"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	return JobSnapshot{
		ID:       j.ID,
		Filename: j.Filename,
		Status:   j.Status,
		Phase:    j.Phase,
		Progress: Progress{
			TotalChunks:    j.Progress.TotalChunks,
			ChunksEmbedded: j.Progress.ChunksEmbedded,
			Errors:         errs,
		},
		ContentHash: j.ContentHash,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
