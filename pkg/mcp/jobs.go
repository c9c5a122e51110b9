package mcp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
)

// JobStatus represents the current state of a download job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a background album download
type Job struct {
	ID           string    `json:"id"`
	AlbumURL     string    `json:"album_url"`
	Label        string    `json:"label"`
	TargetDir    string    `json:"target_dir"`
	Status       JobStatus `json:"status"`
	RunID        string    `json:"run_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`

	// Latest progress report; nil until the engine emits one
	snapshot models.Snapshot

	ctx    context.Context
	cancel context.CancelFunc
}

func (j *Job) active() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusRunning
}

// JobManager manages background download jobs
type JobManager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	byAlbum map[string]string // normalized album URL -> jobID until the job's engine returns
}

// albumKey maps spellings of one album URL (case, default port, trailing slash) to one key
func albumKey(albumURL string) string {
	if normalized, _, err := parse.ParseAndNormalize(albumURL); err == nil {
		return normalized
	}
	return albumURL
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:    make(map[string]*Job),
		byAlbum: make(map[string]string),
	}
}

// CreateJob registers a job for albumURL. If a job for the same album has not finished yet
// (including a cancelled one still stopping) a copy of it is returned with created=false.
func (m *JobManager) CreateJob(albumURL, label, targetDir string) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := albumKey(albumURL)
	if existingID, exists := m.byAlbum[key]; exists {
		if existing := m.jobs[existingID]; existing != nil {
			cp := *existing
			return &cp, false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.New().String(),
		AlbumURL:  albumURL,
		Label:     label,
		TargetDir: targetDir,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.byAlbum[key] = job.ID
	return job, true
}

// GetJob returns a copy of the job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, exists := m.jobs[jobID]
	if !exists {
		return nil
	}
	cp := *job
	return &cp
}

// IsRunning checks if a job is active for an album
func (m *JobManager) IsRunning(albumURL string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if jobID, exists := m.byAlbum[albumKey(albumURL)]; exists {
		job := m.jobs[jobID]
		return job != nil && job.active()
	}
	return false
}

// MarkRunning moves a pending job to running and records the ledger run ID
func (m *JobManager) MarkRunning(jobID, runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[jobID]; exists && job.Status == JobStatusPending {
		job.Status = JobStatusRunning
		job.RunID = runID
	}
}

// UpdateSnapshot stores the latest snapshot of a job
func (m *JobManager) UpdateSnapshot(jobID string, s models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, exists := m.jobs[jobID]; exists {
		job.snapshot = s
	}
}

// Finish sets the terminal status of a job. A job already cancelled stays cancelled.
func (m *JobManager) Finish(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists {
		return
	}
	if job.Status != JobStatusCancelled {
		job.Status = status
	}
	if job.CompletedAt.IsZero() {
		job.CompletedAt = time.Now()
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
	job.cancel()
	if key := albumKey(job.AlbumURL); m.byAlbum[key] == job.ID {
		delete(m.byAlbum, key)
	}
}

// CancelJob cancels an active job. The album stays claimed until Finish.
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || !job.active() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	return true
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
}

// ListJobs returns copies of all jobs, oldest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt.Before(jobs[j].StartedAt) })
	return jobs
}

// GetContext returns the context a job's engine runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}

// Snapshot returns the latest snapshot of a job, or nil
func (j *Job) Snapshot() models.Snapshot {
	return j.snapshot
}
