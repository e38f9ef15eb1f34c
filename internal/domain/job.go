package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// NewJobID generates a new job identifier.
func NewJobID() JobID {
	return JobID("job_" + uuid.New().String()[:8])
}

// JobState represents the current state of a job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateExpanding JobState = "expanding"
	JobStateRunning   JobState = "running"
	JobStateRetrying  JobState = "retrying"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

var jobTransitions = map[JobState][]JobState{
	JobStateExpanding: {JobStateQueued, JobStateFailed, JobStateCancelled},
	JobStateQueued:    {JobStateRunning, JobStateCancelled, JobStateFailed},
	JobStateRunning:   {JobStateRetrying, JobStateSucceeded, JobStateFailed, JobStateCancelled},
	JobStateRetrying:  {JobStateRunning, JobStateFailed, JobStateCancelled},
}

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateCancelled
}

// IsActive reports whether the job currently holds a worker.
func (s JobState) IsActive() bool {
	return s == JobStateRunning || s == JobStateRetrying
}

// CanTransition reports whether s may move to next.
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FormatSelection describes the desired quality and container.
type FormatSelection struct {
	// Quality is the maximum video height; 0 selects the best available.
	Quality   int    `json:"quality"`
	Container string `json:"container"`
	AudioOnly bool   `json:"audio_only"`
}

// Selector returns the engine format expression for the selection.
func (f FormatSelection) Selector() string {
	if f.AudioOnly {
		return "ba/b"
	}
	if f.Quality > 0 {
		return fmt.Sprintf("bv*[height<=%d]+ba/b[height<=%d]", f.Quality, f.Quality)
	}
	return "bv*+ba/b"
}

// Job is one schedulable unit: a single media item to transfer.
type Job struct {
	ID           JobID           `json:"id"`
	GroupID      GroupID         `json:"group_id,omitempty"`
	SourceID     string          `json:"source_id"`
	URL          string          `json:"url"`
	Title        string          `json:"title,omitempty"`
	Format       FormatSelection `json:"format"`
	OutputDir    string          `json:"output_dir"`
	RequiresAuth bool            `json:"requires_auth"`
	State        JobState        `json:"state"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Failure      *Failure        `json:"failure,omitempty"`
	RetryOf      JobID           `json:"retry_of,omitempty"`
	OutputPath   string          `json:"output_path,omitempty"`
	LastProgress *ProgressEvent  `json:"last_progress,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for a source.
func NewJob(sourceID, url string, format FormatSelection, outputDir string, maxAttempts int) *Job {
	now := time.Now()
	return &Job{
		ID:          NewJobID(),
		SourceID:    sourceID,
		URL:         url,
		Format:      format,
		OutputDir:   outputDir,
		State:       JobStateQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the job to next, enforcing the state machine.
func (j *Job) Transition(next JobState) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, next)
	}
	now := time.Now()
	switch next {
	case JobStateRunning:
		j.Attempts++
		if j.StartedAt.IsZero() {
			j.StartedAt = now
		}
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		j.FinishedAt = now
	}
	j.State = next
	j.UpdatedAt = now
	return nil
}

// CanRetry reports whether a finished job may be started again by hand:
// only failed and cancelled jobs qualify.
func (j *Job) CanRetry() bool {
	return j.State == JobStateFailed || j.State == JobStateCancelled
}

// Resubmission returns a fresh queued job for the same source and
// settings, linked to j through RetryOf. It does not join j's group.
func (j *Job) Resubmission() *Job {
	next := NewJob(j.SourceID, j.URL, j.Format, j.OutputDir, j.MaxAttempts)
	next.Title = j.Title
	next.RequiresAuth = j.RequiresAuth
	next.RetryOf = j.ID
	return next
}

// MarkFailed moves the job to Failed with a cause.
func (j *Job) MarkFailed(kind FailureKind, message string) error {
	if err := j.Transition(JobStateFailed); err != nil {
		return err
	}
	j.Failure = &Failure{Kind: kind, Message: message}
	return nil
}

// MarkCancelled moves the job to Cancelled.
func (j *Job) MarkCancelled() error {
	if err := j.Transition(JobStateCancelled); err != nil {
		return err
	}
	j.Failure = &Failure{Kind: FailureCancelled, Message: "cancelled by user"}
	return nil
}

// Snapshot returns a copy safe to hand to readers.
func (j *Job) Snapshot() Job {
	cp := *j
	if j.Failure != nil {
		f := *j.Failure
		cp.Failure = &f
	}
	if j.LastProgress != nil {
		p := *j.LastProgress
		cp.LastProgress = &p
	}
	return cp
}
