package repository

import (
	"context"
	"sync"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// InMemoryJobRepository implements JobRepository using in-memory storage.
type InMemoryJobRepository struct {
	mu       sync.RWMutex
	jobs     map[domain.JobID]*domain.Job
	bySource map[string][]domain.JobID
	order    []domain.JobID // submission order
	queue    []domain.JobID // FIFO queue of pending job IDs
}

// NewInMemoryJobRepository creates a new in-memory job repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:     make(map[domain.JobID]*domain.Job),
		bySource: make(map[string][]domain.JobID),
		order:    make([]domain.JobID, 0),
		queue:    make([]domain.JobID, 0),
	}
}

// Enqueue adds a job to the queue.
func (r *InMemoryJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; !exists {
		r.order = append(r.order, job.ID)
		if job.SourceID != "" {
			r.bySource[job.SourceID] = append(r.bySource[job.SourceID], job.ID)
		}
	}
	r.jobs[job.ID] = job
	r.queue = append(r.queue, job.ID)

	return nil
}

// Dequeue retrieves the next pending job (FIFO).
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, jobID := range r.queue {
		job, ok := r.jobs[jobID]
		if !ok {
			continue
		}

		if job.State == domain.JobStateQueued {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return job, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Remove takes a job out of the pending queue.
func (r *InMemoryJobRepository) Remove(ctx context.Context, id domain.JobID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, jobID := range r.queue {
		if jobID == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// List returns every job in submission order.
func (r *InMemoryJobRepository) List(ctx context.Context) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Job, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.jobs[id])
	}
	return result, nil
}

// Delete forgets a job entirely.
func (r *InMemoryJobRepository) Delete(ctx context.Context, id domain.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	delete(r.jobs, id)
	r.order = removeID(r.order, id)
	r.queue = removeID(r.queue, id)

	if ids := removeID(r.bySource[job.SourceID], id); len(ids) > 0 {
		r.bySource[job.SourceID] = ids
	} else {
		delete(r.bySource, job.SourceID)
	}
	return nil
}

func removeID(ids []domain.JobID, id domain.JobID) []domain.JobID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// FindBySource returns the jobs created for a source id.
func (r *InMemoryJobRepository) FindBySource(ctx context.Context, sourceID string) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.bySource[sourceID]
	result := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.jobs[id])
	}
	return result, nil
}

// Stats returns queue statistics. Callers holding job state under their
// own lock should hold it here too.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &QueueStats{Total: len(r.jobs), Pending: len(r.queue)}
	for _, job := range r.jobs {
		switch job.State {
		case domain.JobStateQueued, domain.JobStateExpanding:
			stats.Queued++
		case domain.JobStateRunning:
			stats.Running++
		case domain.JobStateRetrying:
			stats.Retrying++
		case domain.JobStateSucceeded:
			stats.Succeeded++
		case domain.JobStateFailed:
			stats.Failed++
		case domain.JobStateCancelled:
			stats.Cancelled++
		}
	}

	return stats, nil
}

// Clear removes all jobs (useful for testing).
func (r *InMemoryJobRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs = make(map[domain.JobID]*domain.Job)
	r.bySource = make(map[string][]domain.JobID)
	r.order = make([]domain.JobID, 0)
	r.queue = make([]domain.JobID, 0)
}
