package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/repository"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("scheduler shutdown timed out")

// Start launches the coordinator and the workers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("starting scheduler", "concurrency", s.cfg.Concurrency, "max_attempts", s.cfg.Retry.MaxAttempts)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.wg.Add(1)
	go s.coordinate()
	s.signal()
}

// Stop rejects new jobs, cancels running ones and waits for the workers.
// Queued jobs stay queued.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.logger.Info("stopping scheduler")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

// coordinate is the single owner of admission: it moves queued jobs to
// Running while fewer than Concurrency jobs run.
func (s *Scheduler) coordinate() {
	defer s.wg.Done()

	for {
		for {
			d, ok := s.admit()
			if !ok {
				break
			}
			select {
			case s.work <- d:
			case <-s.ctx.Done():
				s.finish(d.ctx, d.job, nil, d.ctx.Err())
				return
			}
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Scheduler) admit() (dispatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted || s.stopped || s.running >= s.cfg.Concurrency {
		return dispatch{}, false
	}
	job, err := s.jobs.Dequeue(s.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			s.logger.Error("failed to dequeue job", "error", err)
		}
		return dispatch{}, false
	}

	if err := job.Transition(domain.JobStateRunning); err != nil {
		s.logger.Error("failed to start job", "job_id", job.ID, "error", err)
		return dispatch{}, false
	}
	s.running++
	if s.running > s.peakRunning {
		s.peakRunning = s.running
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancels[job.ID] = cancel

	s.publishJobLocked(job, "started")
	s.recomputeGroupLocked(job.GroupID)
	return dispatch{job: job, ctx: ctx}, true
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	logger := s.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-s.ctx.Done():
			logger.Debug("worker stopping")
			return
		case d := <-s.work:
			s.run(logger, d)
		}
	}
}

func (s *Scheduler) run(logger *slog.Logger, d dispatch) {
	job := d.job
	logger = logger.With("job_id", job.ID, "group_id", job.GroupID, "source_id", job.SourceID)
	logger.Info("processing job", "url", job.URL)

	retry := s.cfg.Retry
	retry.MaxAttempts = job.MaxAttempts

	result, err := RetryWithCheck(d.ctx, retry,
		func(attempt int) (*engine.DownloadResult, error) {
			if attempt > 1 {
				s.resume(job)
			}
			return s.attempt(d.ctx, logger, job)
		},
		func(err error) bool {
			return d.ctx.Err() == nil && engine.Classify(err) == domain.FailureTransient
		},
		func(attempt int, err error, delay time.Duration) {
			logger.Warn("job failed, will retry",
				"error", err,
				"attempt", attempt,
				"max_attempts", job.MaxAttempts,
				"delay", delay,
			)
			s.backoff(job, fmt.Sprintf("retrying in %s: %s", delay, engine.Describe(err)))
		},
	)

	s.finish(d.ctx, job, result, err)
}

// attempt runs one transfer. Credentials are fetched here so a re-login
// during the queue takes effect for the next start.
func (s *Scheduler) attempt(ctx context.Context, logger *slog.Logger, job *domain.Job) (*engine.DownloadResult, error) {
	if s.preflight != nil {
		if err := s.preflight(ctx, job); err != nil {
			return nil, err
		}
	}

	var (
		creds      *domain.CredentialSet
		generation uint64
	)
	if s.creds != nil {
		c, gen, err := s.creds.Credentials()
		switch {
		case err == nil:
			creds, generation = c, gen
		case job.RequiresAuth:
			return nil, domain.NewJobError(job.ID, "credentials", domain.FailureUnauthorized, err)
		}
	} else if job.RequiresAuth {
		return nil, domain.NewJobError(job.ID, "credentials", domain.FailureUnauthorized, domain.ErrNotAuthenticated)
	}

	req := engine.DownloadRequest{
		JobID:       job.ID,
		URL:         job.URL,
		Format:      job.Format,
		Credentials: creds,
		OutputDir:   job.OutputDir,
	}
	result, err := s.engine.Download(ctx, req, func(ev domain.ProgressEvent) {
		ev.JobID = job.ID
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		s.progress.Observe(ev)
	})
	if err != nil && creds != nil && errors.Is(err, domain.ErrUnauthorized) {
		if s.creds.ReportUnauthorized(generation, engine.Describe(err)) {
			logger.Warn("session rejected by the platform", "error", err)
		}
	}
	return result, err
}

// backoff moves a Running job to Retrying.
func (s *Scheduler) backoff(job *domain.Job, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := job.Transition(domain.JobStateRetrying); err != nil {
		s.logger.Error("failed to mark job retrying", "job_id", job.ID, "error", err)
		return
	}
	s.publishJobLocked(job, message)
	s.recomputeGroupLocked(job.GroupID)
}

// resume moves a Retrying job back to Running for its next attempt.
func (s *Scheduler) resume(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := job.Transition(domain.JobStateRunning); err != nil {
		s.logger.Error("failed to resume job", "job_id", job.ID, "error", err)
		return
	}
	s.publishJobLocked(job, fmt.Sprintf("attempt %d of %d", job.Attempts, job.MaxAttempts))
	s.recomputeGroupLocked(job.GroupID)
}

// finish applies the terminal transition of an active job.
func (s *Scheduler) finish(ctx context.Context, job *domain.Job, result *engine.DownloadResult, err error) {
	var record *repository.HistoryEntry
	cancelled := ctx.Err() != nil

	s.mu.Lock()

	if cancel, ok := s.cancels[job.ID]; ok {
		cancel()
		delete(s.cancels, job.ID)
	}
	delete(s.cancelRequested, job.ID)
	s.running--

	logger := s.logger.With("job_id", job.ID, "group_id", job.GroupID)
	var message string

	switch {
	case err == nil:
		if result != nil {
			job.OutputPath = result.OutputPath
			if job.Title == "" {
				job.Title = result.Title
			}
		}
		job.Transition(domain.JobStateSucceeded)
		message = "completed"
		logger.Info("job completed successfully", "output", job.OutputPath, "attempts", job.Attempts)
		if s.history != nil {
			record = &repository.HistoryEntry{
				SourceID:    job.SourceID,
				URL:         job.URL,
				Title:       job.Title,
				OutputPath:  job.OutputPath,
				CompletedAt: job.FinishedAt,
			}
		}

	case cancelled || errors.Is(err, context.Canceled):
		job.MarkCancelled()
		message = "cancelled"
		logger.Info("job cancelled", "attempts", job.Attempts)

	default:
		kind := engine.Classify(err)
		if kind == domain.FailureCancelled {
			kind = domain.FailureFatal
		}
		job.MarkFailed(kind, engine.Describe(err))
		message = job.Failure.Message
		logger.Error("job failed permanently", "error", err, "kind", kind, "attempts", job.Attempts)

		if errors.Is(err, domain.ErrDiskFull) {
			s.haltLocked("Insufficient storage space: new downloads are paused")
		}
		if engine.IsForbidden(err) && !s.forbiddenWarned {
			s.forbiddenWarned = true
			s.logger.Warn("platform refused a transfer with 403", "job_id", job.ID)
			s.events.Publish(domain.Event{
				Kind:     domain.EventSystemWarning,
				Severity: domain.EventSeverityWarning,
				JobID:    job.ID,
				Message:  "The platform returned 403 Forbidden; the download engine may need an update",
			})
		}
	}

	s.completeLocked(job, message)
	s.mu.Unlock()

	if record != nil {
		if err := s.history.Record(context.Background(), *record); err != nil {
			s.logger.Warn("failed to record history", "job_id", job.ID, "error", err)
		}
	}
	s.signal()
}
