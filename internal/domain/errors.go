package domain

import (
	"errors"
	"fmt"
)

// Domain errors.
var (
	// ErrParse is returned when a cookie import payload is malformed.
	ErrParse = errors.New("malformed cookie data")

	// ErrIOFailure is returned when the session file cannot be read or written.
	ErrIOFailure = errors.New("session storage failure")

	// ErrTransient marks a transfer failure worth retrying (network, timeout).
	ErrTransient = errors.New("transient transfer error")

	// ErrUnauthorized is returned when the platform rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a video or playlist entry does not exist.
	ErrNotFound = errors.New("source not found")

	// ErrFatalEngine is returned for unexpected engine failures.
	ErrFatalEngine = errors.New("engine failure")

	// ErrDiskFull is returned when the output volume has no space left.
	ErrDiskFull = errors.New("insufficient storage space")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrGroupNotFound is returned when a job group cannot be found.
	ErrGroupNotFound = errors.New("job group not found")

	// ErrNoJobs is returned when there are no jobs to dequeue.
	ErrNoJobs = errors.New("no jobs available")

	// ErrCredentialsNotFound is returned when no session has been persisted.
	ErrCredentialsNotFound = errors.New("no stored credentials")

	// ErrNotAuthenticated is returned when credentials are requested while logged out or expired.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrLoginInProgress is returned when a capture login is already running.
	ErrLoginInProgress = errors.New("login already in progress")

	// ErrLoginCancelled is returned when the user aborts a capture login.
	ErrLoginCancelled = errors.New("login cancelled")

	// ErrInvalidURL is returned when a submitted URL cannot be used.
	ErrInvalidURL = errors.New("invalid source URL")

	// ErrInvalidTransition is returned when a job state change is not allowed.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrSchedulerHalted is returned when a process-fatal condition stopped admission.
	ErrSchedulerHalted = errors.New("scheduler halted")

	// ErrSchedulerStopped is returned after the scheduler has been shut down.
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrNotRetryable is returned when a retry targets a job that has not
	// failed or been cancelled.
	ErrNotRetryable = errors.New("job cannot be retried")

	// ErrSourceActive is returned when a retry targets a source that already
	// has an unfinished job.
	ErrSourceActive = errors.New("source already has an active job")
)

// FailureKind is the user-facing cause classification of a failed job.
type FailureKind string

const (
	FailureTransient    FailureKind = "transient"
	FailureUnauthorized FailureKind = "unauthorized"
	FailureNotFound     FailureKind = "not_found"
	FailureFatal        FailureKind = "fatal"
	FailureCancelled    FailureKind = "cancelled"
)

// Failure is the human-readable cause attached to a Failed job.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// KindOf classifies an error into a FailureKind.
// Unknown errors are fatal; they are never retried.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrTransient):
		return FailureTransient
	default:
		var je *JobError
		if errors.As(err, &je) && je.Kind != "" {
			return je.Kind
		}
		return FailureFatal
	}
}

// JobError wraps an error with job context.
type JobError struct {
	JobID JobID
	Op    string
	Kind  FailureKind
	Err   error
}

func (e *JobError) Error() string {
	if e.JobID != "" {
		return e.Op + " [" + e.JobID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new JobError, classifying err when kind is empty.
func NewJobError(jobID JobID, op string, kind FailureKind, err error) *JobError {
	if kind == "" {
		kind = KindOf(err)
	}
	return &JobError{
		JobID: jobID,
		Op:    op,
		Kind:  kind,
		Err:   err,
	}
}

// IOError wraps a persistence failure. It always matches ErrIOFailure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports ErrIOFailure so callers can treat any store error uniformly.
func (e *IOError) Is(target error) bool {
	return target == ErrIOFailure
}

// ParseError describes why a cookie import was rejected.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse cookies: line %d: %s", e.Line, e.Reason)
	}
	return "parse cookies: " + e.Reason
}

// Is reports ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
