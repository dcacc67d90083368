// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

// JobStore keeps jobs and page records in maps.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]discovery.Job
	pages map[string][]discovery.PageRecord
	now   func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]discovery.Job),
		pages: make(map[string][]discovery.PageRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job discovery.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return discovery.ErrJobExists
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job. A job that
// already reached a terminal status keeps it, so a late worker update cannot
// resurrect a canceled job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status discovery.JobStatus,
	errText string,
	counters discovery.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return discovery.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		job.Counters = counters
		s.jobs[jobID] = job
		return nil
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == discovery.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.IsTerminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordPage appends a page record for a job.
func (s *JobStore) RecordPage(_ context.Context, page discovery.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[page.JobID]; !ok {
		return discovery.ErrJobNotFound
	}
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (discovery.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return discovery.Job{}, discovery.ErrJobNotFound
	}
	return job, nil
}

// ListPages returns a copy of the page records for a job.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]discovery.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, discovery.ErrJobNotFound
	}
	pages := s.pages[jobID]
	out := make([]discovery.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}
