package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// JobStatus represents the state of an upload job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusSegmenting JobStatus = "segmenting"
	StatusIndexing   JobStatus = "indexing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job tracks the state of a single uploaded file.
type Job struct {
	mu sync.Mutex

	ID    string
	DocID string

	Status   JobStatus
	Phase    string
	Filename string
	Title    string

	Progress Progress

	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	fileData []byte
	errors   []string
}

// Progress counts what the job produced.
type Progress struct {
	Characters      int      `json:"characters"`
	ParentsCreated  int      `json:"parents_created"`
	ChildrenCreated int      `json:"children_created"`
	Errors          []string `json:"errors"`
}

// NewJob returns a queued job holding data.
func NewJob(id, filename, title, docID string, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		DocID:     docID,
		Status:    StatusQueued,
		Phase:     "queued",
		Filename:  filename,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		fileData:  data,
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

// Cleanup removes jobs not updated within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
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

// Fail records err and marks the job failed in phase.
func (j *Job) Fail(phase string, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.Status = StatusFailed
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// SetParsed records the hash and length of the parsed text.
func (j *Job) SetParsed(hash string, chars int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ContentHash = hash
	j.Progress.Characters = chars
	j.UpdatedAt = time.Now()
}

// Complete records the ingestion counts and marks the job completed.
func (j *Job) Complete(docID string, parents, children int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.DocID = docID
	j.Progress.ParentsCreated = parents
	j.Progress.ChildrenCreated = children
	j.Status = StatusCompleted
	j.Phase = "done"
	j.UpdatedAt = time.Now()
}

// takeFileData returns the raw file bytes and releases them from the job.
func (j *Job) takeFileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	data := j.fileData
	j.fileData = nil
	return data
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	DocID       string    `json:"doc_id"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	ContentHash string    `json:"content_hash,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:          j.ID,
		DocID:       j.DocID,
		Status:      j.Status,
		Phase:       j.Phase,
		Filename:    j.Filename,
		Title:       j.Title,
		ContentHash: j.ContentHash,
		Progress:    p,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
