package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/repository"
)

// CredentialSource supplies the current session to jobs at start.
type CredentialSource interface {
	// Credentials returns the active set and its session generation.
	Credentials() (*domain.CredentialSet, uint64, error)
	// ReportUnauthorized expires the session of the given generation.
	ReportUnauthorized(generation uint64, cause string) bool
}

// ProgressSink receives raw engine progress and terminal notifications.
type ProgressSink interface {
	Track(jobID domain.JobID, groupID domain.GroupID)
	Observe(ev domain.ProgressEvent) bool
	Complete(jobID domain.JobID, state domain.JobState) bool
	Latest(jobID domain.JobID) (domain.ProgressEvent, bool)
	Forget(jobID domain.JobID)
}

// Preflight runs before every attempt. Returning an error matching
// domain.ErrDiskFull halts the scheduler.
type Preflight func(ctx context.Context, job *domain.Job) error

// Config holds scheduler configuration.
type Config struct {
	// Concurrency is the maximum number of Running jobs.
	Concurrency int
	Retry       RetryConfig
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCredentials injects the session used by jobs.
func WithCredentials(c CredentialSource) Option {
	return func(s *Scheduler) { s.creds = c }
}

// WithProgress routes engine progress through an aggregator.
func WithProgress(p ProgressSink) Option {
	return func(s *Scheduler) { s.progress = p }
}

// WithPreflight installs a check run before each attempt.
func WithPreflight(p Preflight) Option {
	return func(s *Scheduler) { s.preflight = p }
}

// WithHistory records succeeded jobs for cross-run dedupe.
func WithHistory(h repository.HistoryRepository) Option {
	return func(s *Scheduler) { s.history = h }
}

// Scheduler runs jobs with bounded concurrency, retry and cancellation.
//
// mu guards every job's state, the running counter and the halt flags.
// groupsMu guards group counters and is always taken after mu. Events are
// published while mu is held; Publish never blocks, and holding the lock
// keeps each job's events in transition order.
type Scheduler struct {
	cfg       Config
	jobs      repository.JobRepository
	groups    repository.GroupRepository
	engine    engine.Engine
	creds     CredentialSource
	progress  ProgressSink
	preflight Preflight
	history   repository.HistoryRepository
	events    domain.EventPublisher
	logger    *slog.Logger

	mu              sync.Mutex
	running         int
	peakRunning     int
	cancels         map[domain.JobID]context.CancelFunc
	cancelRequested map[domain.JobID]bool
	halted          bool
	haltReason      string
	stopped         bool
	started         bool
	forbiddenWarned bool
	prunedSucceeded map[string]bool

	groupsMu sync.Mutex

	wake chan struct{}
	work chan dispatch

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type dispatch struct {
	job *domain.Job
	ctx context.Context
}

// New creates a scheduler. Call Start to begin running jobs.
func New(
	cfg Config,
	jobs repository.JobRepository,
	groups repository.GroupRepository,
	eng engine.Engine,
	events domain.EventPublisher,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:             cfg,
		jobs:            jobs,
		groups:          groups,
		engine:          eng,
		events:          events,
		logger:          logger.With("component", "scheduler"),
		progress:        nopProgress{},
		cancels:         make(map[domain.JobID]context.CancelFunc),
		cancelRequested: make(map[domain.JobID]bool),
		prunedSucceeded: make(map[string]bool),
		wake:            make(chan struct{}, 1),
		work:            make(chan dispatch),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends jobs to the pending queue in order.
func (s *Scheduler) Enqueue(jobs ...*domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admissionErrLocked(); err != nil {
		return err
	}
	for _, job := range jobs {
		s.enqueueLocked(job)
	}
	s.signal()
	return nil
}

// EnqueueGroup registers a group and enqueues its member jobs in order.
func (s *Scheduler) EnqueueGroup(group *domain.Group, jobs []*domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admissionErrLocked(); err != nil {
		return err
	}

	s.groupsMu.Lock()
	for _, job := range jobs {
		job.GroupID = group.ID
		group.AddJob(job.ID)
	}
	s.groupsMu.Unlock()

	if err := s.groups.Create(s.ctx, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	for _, job := range jobs {
		s.enqueueLocked(job)
	}
	s.recomputeGroupLocked(group.ID)

	s.logger.Info("group enqueued", "group_id", group.ID, "jobs", len(jobs), "skipped", len(group.SkippedEntries))
	s.signal()
	return nil
}

func (s *Scheduler) admissionErrLocked() error {
	if s.stopped {
		return domain.ErrSchedulerStopped
	}
	if s.halted {
		return fmt.Errorf("%w: %s", domain.ErrSchedulerHalted, s.haltReason)
	}
	return nil
}

func (s *Scheduler) enqueueLocked(job *domain.Job) {
	if job.State == domain.JobStateExpanding {
		job.Transition(domain.JobStateQueued)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.cfg.Retry.MaxAttempts
	}
	s.jobs.Enqueue(s.ctx, job)
	s.progress.Track(job.ID, job.GroupID)
	s.publishJobLocked(job, "queued")
	s.logger.Debug("job enqueued", "job_id", job.ID, "group_id", job.GroupID, "source_id", job.SourceID)
}

// Cancel cancels one job. Queued jobs are cancelled immediately; active
// jobs are signalled and become Cancelled when their worker observes it.
// Cancelling a terminal job is a no-op.
func (s *Scheduler) Cancel(id domain.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(id)
}

// CancelGroup cancels every non-terminal member of a group.
func (s *Scheduler) CancelGroup(id domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, err := s.groups.Get(s.ctx, id)
	if err != nil {
		return err
	}
	s.groupsMu.Lock()
	members := append([]domain.JobID(nil), group.JobIDs...)
	s.groupsMu.Unlock()

	for _, jobID := range members {
		if err := s.cancelLocked(jobID); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
	}
	s.logger.Info("group cancelled", "group_id", id, "members", len(members))
	return nil
}

// CancelAll cancels every non-terminal job.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, _ := s.jobs.List(s.ctx)
	n := 0
	for _, job := range all {
		if job.State.IsTerminal() {
			continue
		}
		if err := s.cancelLocked(job.ID); err == nil {
			n++
		}
	}
	s.logger.Info("all jobs cancelled", "count", n)
	return n
}

func (s *Scheduler) cancelLocked(id domain.JobID) error {
	job, err := s.jobs.Get(s.ctx, id)
	if err != nil {
		return err
	}

	switch {
	case job.State.IsTerminal():
		return nil
	case job.State.IsActive():
		if s.cancelRequested[id] {
			return nil
		}
		s.cancelRequested[id] = true
		if cancel, ok := s.cancels[id]; ok {
			cancel()
		}
		s.logger.Debug("cancellation requested", "job_id", id)
		return nil
	default:
		s.jobs.Remove(s.ctx, id)
		if err := job.MarkCancelled(); err != nil {
			return err
		}
		s.completeLocked(job, "cancelled before start")
		return nil
	}
}

// completeLocked publishes a terminal transition already applied to job.
func (s *Scheduler) completeLocked(job *domain.Job, message string) {
	s.publishJobLocked(job, message)
	s.progress.Complete(job.ID, job.State)
	s.recomputeGroupLocked(job.GroupID)
}

// haltLocked stops admission after a process-fatal condition.
func (s *Scheduler) haltLocked(reason string) {
	if s.halted {
		return
	}
	s.halted = true
	s.haltReason = reason
	s.logger.Error("scheduler halted", "reason", reason)
	s.events.Publish(domain.Event{
		Kind:     domain.EventSystemFatal,
		Severity: domain.EventSeverityError,
		Message:  reason,
	})
}

// Halted reports whether a process-fatal condition stopped job starts.
func (s *Scheduler) Halted() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted, s.haltReason
}

func (s *Scheduler) recomputeGroupLocked(id domain.GroupID) {
	if id == "" {
		return
	}
	group, err := s.groups.Get(s.ctx, id)
	if err != nil {
		s.logger.Warn("group missing during recompute", "group_id", id, "error", err)
		return
	}

	states := make(map[domain.JobID]domain.JobState, len(group.JobIDs))
	for _, jobID := range group.JobIDs {
		if job, err := s.jobs.Get(s.ctx, jobID); err == nil {
			states[jobID] = job.State
		}
	}

	s.groupsMu.Lock()
	wasComplete := !group.CompletedAt.IsZero()
	group.Recompute(states)
	snap := group.Snapshot()
	s.groupsMu.Unlock()

	s.events.Publish(domain.Event{
		Kind:     domain.EventGroupAggregateChanged,
		Severity: domain.EventSeverityInfo,
		GroupID:  id,
		Group:    &snap,
	})

	if !wasComplete && snap.Counters.Terminal() {
		c := snap.Counters
		s.logger.Info("group completed", "group_id", id,
			"succeeded", c.Succeeded, "failed", c.Failed, "cancelled", c.Cancelled, "skipped", c.Skipped)
		severity := domain.EventSeveritySuccess
		if c.Failed > 0 {
			severity = domain.EventSeverityWarning
		}
		s.events.Publish(domain.Event{
			Kind:     domain.EventGroupCompleted,
			Severity: severity,
			GroupID:  id,
			Group:    &snap,
			Message:  fmt.Sprintf("%d succeeded, %d failed, %d cancelled, %d skipped", c.Succeeded, c.Failed, c.Cancelled, c.Skipped),
		})
	}
}

func (s *Scheduler) publishJobLocked(job *domain.Job, message string) {
	snap := job.Snapshot()
	severity := domain.EventSeverityInfo
	switch job.State {
	case domain.JobStateSucceeded:
		severity = domain.EventSeveritySuccess
	case domain.JobStateFailed:
		severity = domain.EventSeverityError
	case domain.JobStateRetrying, domain.JobStateCancelled:
		severity = domain.EventSeverityWarning
	}
	s.events.Publish(domain.Event{
		Kind:     domain.EventJobStateChanged,
		Severity: severity,
		JobID:    job.ID,
		GroupID:  job.GroupID,
		Job:      &snap,
		Message:  message,
	})
}

// signal wakes the coordinator without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SourceStatus reports what the scheduler knows about a source id.
type SourceStatus struct {
	Active    bool
	Succeeded bool
}

// SourceStatus reports whether a source has a non-terminal or a succeeded
// job in this run. Succeeded jobs count even after they were pruned.
func (s *Scheduler) SourceStatus(sourceID string) SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SourceStatus{Succeeded: s.prunedSucceeded[sourceID]}
	jobs, _ := s.jobs.FindBySource(s.ctx, sourceID)
	for _, job := range jobs {
		switch {
		case !job.State.IsTerminal():
			st.Active = true
		case job.State == domain.JobStateSucceeded:
			st.Succeeded = true
		}
	}
	return st
}

// Snapshot returns a copy of one job including its latest progress.
func (s *Scheduler) Snapshot(id domain.JobID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.jobs.Get(s.ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	return s.snapshotLocked(job), nil
}

func (s *Scheduler) snapshotLocked(job *domain.Job) domain.Job {
	snap := job.Snapshot()
	if p, ok := s.progress.Latest(job.ID); ok {
		snap.LastProgress = &p
	}
	return snap
}

// Jobs returns copies of every job in submission order.
func (s *Scheduler) Jobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, _ := s.jobs.List(s.ctx)
	out := make([]domain.Job, 0, len(all))
	for _, job := range all {
		out = append(out, s.snapshotLocked(job))
	}
	return out
}

// Group returns a copy of one group.
func (s *Scheduler) Group(id domain.GroupID) (domain.Group, error) {
	group, err := s.groups.Get(s.ctx, id)
	if err != nil {
		return domain.Group{}, err
	}
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	return group.Snapshot(), nil
}

// Groups returns copies of every group, oldest first.
func (s *Scheduler) Groups() []domain.Group {
	all, _ := s.groups.List(s.ctx)
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()

	out := make([]domain.Group, 0, len(all))
	for _, g := range all {
		out = append(out, g.Snapshot())
	}
	return out
}

// Stats describes the scheduler.
type Stats struct {
	Concurrency int                   `json:"concurrency"`
	Running     int                   `json:"running"`
	PeakRunning int                   `json:"peak_running"`
	Halted      bool                  `json:"halted"`
	HaltReason  string                `json:"halt_reason,omitempty"`
	Groups      int                   `json:"groups"`
	Queue       repository.QueueStats `json:"queue"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Concurrency: s.cfg.Concurrency,
		Running:     s.running,
		PeakRunning: s.peakRunning,
		Halted:      s.halted,
		HaltReason:  s.haltReason,
	}
	if q, err := s.jobs.Stats(s.ctx); err == nil {
		st.Queue = *q
	}
	if groups, err := s.groups.List(s.ctx); err == nil {
		st.Groups = len(groups)
	}
	return st
}

type nopProgress struct{}

func (nopProgress) Track(domain.JobID, domain.GroupID)               {}
func (nopProgress) Observe(domain.ProgressEvent) bool                { return false }
func (nopProgress) Complete(domain.JobID, domain.JobState) bool      { return false }
func (nopProgress) Latest(domain.JobID) (domain.ProgressEvent, bool) { return domain.ProgressEvent{}, false }
func (nopProgress) Forget(domain.JobID)                              {}
