package repository

import (
	"context"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// JobRepository manages the job queue. Stored jobs are shared pointers;
// the scheduler serializes mutation.
type JobRepository interface {
	// Enqueue adds a job to the tail of the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue retrieves the next queued job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Remove takes a job out of the pending queue. The job stays retrievable.
	Remove(ctx context.Context, id domain.JobID) bool

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// List returns every job in submission order.
	List(ctx context.Context) ([]*domain.Job, error)

	// Delete forgets a job entirely, including its source index entry.
	Delete(ctx context.Context, id domain.JobID) error

	// FindBySource returns the jobs created for a source id.
	FindBySource(ctx context.Context, sourceID string) ([]*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// GroupRepository stores playlist groups.
type GroupRepository interface {
	Create(ctx context.Context, group *domain.Group) error
	Get(ctx context.Context, id domain.GroupID) (*domain.Group, error)
	// List returns groups oldest first.
	List(ctx context.Context) ([]*domain.Group, error)
	Delete(ctx context.Context, id domain.GroupID) error
}

// HistoryRepository remembers sources completed in this or earlier runs.
type HistoryRepository interface {
	Record(ctx context.Context, entry HistoryEntry) error
	Contains(ctx context.Context, sourceID string) (bool, error)
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	Close() error
}

// HistoryEntry is one completed download.
type HistoryEntry struct {
	SourceID    string    `json:"source_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Retrying  int `json:"retrying"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
