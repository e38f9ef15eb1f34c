package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/iconidentify/streamfetch/internal/auth"
	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/expander"
	"github.com/iconidentify/streamfetch/internal/repository"
	"github.com/iconidentify/streamfetch/internal/scheduler"
)

// ErrFormatsUnavailable is returned by Formats when no engine is wired.
var ErrFormatsUnavailable = errors.New("format listing is not configured")

// ProgressLog exposes the recent raw samples of a job.
type ProgressLog interface {
	Log(jobID domain.JobID) []domain.ProgressEvent
}

// Option configures a DownloadService.
type Option func(*DownloadService)

// WithEngine enables format listing.
func WithEngine(e engine.Engine) Option {
	return func(s *DownloadService) { s.engine = e }
}

// WithHistory exposes completed downloads from earlier runs.
func WithHistory(h repository.HistoryRepository) Option {
	return func(s *DownloadService) { s.history = h }
}

// WithProgressLog exposes per-job progress samples.
func WithProgressLog(l ProgressLog) Option {
	return func(s *DownloadService) { s.progressLog = l }
}

// Config holds submission defaults.
type Config struct {
	OutputDir      string
	DefaultQuality int
	Container      string
	MaxAttempts    int
}

// DownloadService is the command facade used by the presentation layer.
type DownloadService struct {
	expander  *expander.Expander
	scheduler *scheduler.Scheduler
	session   *auth.SessionManager
	cfg       Config
	logger    *slog.Logger

	engine      engine.Engine
	history     repository.HistoryRepository
	progressLog ProgressLog

	// submitMu makes the final dedupe check and the enqueue of one
	// submission atomic with respect to concurrent submissions.
	submitMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	loginWG sync.WaitGroup
}

// NewDownloadService creates a new download service.
func NewDownloadService(
	exp *expander.Expander,
	sched *scheduler.Scheduler,
	session *auth.SessionManager,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *DownloadService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &DownloadService{
		expander:  exp,
		scheduler: sched,
		session:   session,
		cfg:       cfg,
		logger:    logger.With("component", "download_service"),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest is a user submission.
type SubmitRequest struct {
	URL          string `json:"url"`
	Quality      int    `json:"quality,omitempty"`
	Container    string `json:"container,omitempty"`
	AudioOnly    bool   `json:"audio_only,omitempty"`
	OutputDir    string `json:"output_dir,omitempty"`
	RequiresAuth bool   `json:"requires_auth,omitempty"`
}

// SubmitResponse is returned after a submission.
type SubmitResponse struct {
	Kind       expander.Kind         `json:"kind"`
	GroupID    domain.GroupID        `json:"group_id,omitempty"`
	JobIDs     []domain.JobID        `json:"job_ids"`
	Skipped    []domain.SkippedEntry `json:"skipped,omitempty"`
	Duplicates int                   `json:"duplicates"`
	Message    string                `json:"message"`
}

// SubmitURL expands a URL and enqueues the resulting jobs.
func (s *DownloadService) SubmitURL(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrInvalidURL)
	}
	if halted, reason := s.scheduler.Halted(); halted {
		return nil, fmt.Errorf("%w: %s", domain.ErrSchedulerHalted, reason)
	}

	opts := expander.Options{
		Format: domain.FormatSelection{
			Quality:   req.Quality,
			Container: req.Container,
			AudioOnly: req.AudioOnly,
		},
		OutputDir:    req.OutputDir,
		RequiresAuth: req.RequiresAuth,
		MaxAttempts:  s.cfg.MaxAttempts,
	}
	if opts.Format.Quality == 0 {
		opts.Format.Quality = s.cfg.DefaultQuality
	}
	if opts.Format.Container == "" {
		opts.Format.Container = s.cfg.Container
	}
	if opts.OutputDir == "" {
		opts.OutputDir = s.cfg.OutputDir
	}

	// Listing a playlist can take minutes, so it runs unlocked and the
	// dedupe result is confirmed under submitMu before enqueueing.
	exp, err := s.expander.Expand(ctx, req.URL, opts)
	if err != nil {
		s.logger.Warn("expansion failed", "url", req.URL, "error", err)
		return nil, fmt.Errorf("expand %s: %w", req.URL, err)
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if err := s.expander.Recheck(ctx, exp); err != nil {
		return nil, fmt.Errorf("expand %s: %w", req.URL, err)
	}

	resp := &SubmitResponse{
		Kind:       exp.Source.Kind,
		JobIDs:     make([]domain.JobID, 0, len(exp.Jobs)),
		Skipped:    exp.Skipped,
		Duplicates: exp.Duplicates,
	}
	for _, job := range exp.Jobs {
		resp.JobIDs = append(resp.JobIDs, job.ID)
	}

	switch {
	case len(exp.Jobs) == 0:
		resp.Message = "Nothing new to download"
		return resp, nil
	case exp.Group != nil:
		if err := s.scheduler.EnqueueGroup(exp.Group, exp.Jobs); err != nil {
			return nil, fmt.Errorf("enqueue group: %w", err)
		}
		resp.GroupID = exp.Group.ID
	default:
		if err := s.scheduler.Enqueue(exp.Jobs...); err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
	}

	resp.Message = fmt.Sprintf("Queued %d of %d", len(exp.Jobs), len(exp.Jobs)+len(exp.Skipped)+exp.Duplicates)
	s.logger.Info("submission accepted",
		"url", req.URL,
		"kind", exp.Source.Kind,
		"group_id", resp.GroupID,
		"jobs", len(exp.Jobs),
		"skipped", len(exp.Skipped),
		"duplicates", exp.Duplicates,
	)
	return resp, nil
}

// RetryJob enqueues a fresh standalone job for the source of a failed or
// cancelled job. The original job keeps its terminal state.
func (s *DownloadService) RetryJob(id domain.JobID) (*SubmitResponse, error) {
	if halted, reason := s.scheduler.Halted(); halted {
		return nil, fmt.Errorf("%w: %s", domain.ErrSchedulerHalted, reason)
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	old, err := s.scheduler.Snapshot(id)
	if err != nil {
		return nil, err
	}
	if !old.CanRetry() {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrNotRetryable, old.State)
	}
	if s.scheduler.SourceStatus(old.SourceID).Active {
		return nil, fmt.Errorf("%w: %s", domain.ErrSourceActive, old.SourceID)
	}

	job := old.Resubmission()
	if err := s.scheduler.Enqueue(job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job resubmitted", "job_id", job.ID, "retry_of", id, "source_id", job.SourceID)
	return &SubmitResponse{
		Kind:    expander.KindSingle,
		JobIDs:  []domain.JobID{job.ID},
		Message: "Queued 1 of 1",
	}, nil
}

// Formats lists the renditions of a single video using the current session.
func (s *DownloadService) Formats(ctx context.Context, rawURL string) ([]engine.Format, error) {
	if s.engine == nil {
		return nil, ErrFormatsUnavailable
	}
	src, err := expander.Classify(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if src.Kind != expander.KindSingle {
		return nil, fmt.Errorf("%w: formats are listed for single videos only", domain.ErrInvalidURL)
	}

	creds, generation, err := s.session.Credentials()
	if err != nil {
		creds = nil
	}
	formats, err := s.engine.ResolveFormats(ctx, src.URL, creds)
	if err != nil {
		if creds != nil && errors.Is(err, domain.ErrUnauthorized) {
			s.session.ReportUnauthorized(generation, engine.Describe(err))
		}
		return nil, fmt.Errorf("resolve formats: %w", err)
	}
	return formats, nil
}

// History returns up to limit downloads recorded by the history store,
// newest first. It is empty when no store is configured.
func (s *DownloadService) History(ctx context.Context, limit int) ([]repository.HistoryEntry, error) {
	if s.history == nil {
		return []repository.HistoryEntry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := s.history.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

// JobProgress is the progress record of one job.
type JobProgress struct {
	JobID   domain.JobID           `json:"job_id"`
	Latest  *domain.ProgressEvent  `json:"latest,omitempty"`
	Samples []domain.ProgressEvent `json:"samples"`
}

// Progress returns the latest sample of a job and, when sample logging is
// enabled, its recent raw samples.
func (s *DownloadService) Progress(id domain.JobID) (JobProgress, error) {
	job, err := s.scheduler.Snapshot(id)
	if err != nil {
		return JobProgress{}, err
	}
	out := JobProgress{JobID: id, Latest: job.LastProgress, Samples: []domain.ProgressEvent{}}
	if s.progressLog != nil {
		if samples := s.progressLog.Log(id); samples != nil {
			out.Samples = samples
		}
	}
	return out, nil
}

// CancelJob cancels one job.
func (s *DownloadService) CancelJob(id domain.JobID) error {
	return s.scheduler.Cancel(id)
}

// CancelGroup cancels every unfinished job of a group.
func (s *DownloadService) CancelGroup(id domain.GroupID) error {
	return s.scheduler.CancelGroup(id)
}

// CancelAll cancels every unfinished job and returns how many were affected.
func (s *DownloadService) CancelAll() int {
	return s.scheduler.CancelAll()
}

// ImportCookies installs a pasted or uploaded cookie jar as the session.
func (s *DownloadService) ImportCookies(ctx context.Context, raw string) (domain.AuthStatus, error) {
	if err := s.session.ImportCookies(ctx, raw); err != nil {
		return s.session.Status(), err
	}
	return s.session.Status(), nil
}

// BeginCaptureLogin starts a login capture in the background. Its outcome
// is published as auth events.
func (s *DownloadService) BeginCaptureLogin() error {
	if !s.session.CanCaptureLogin() {
		return auth.ErrCaptureUnavailable
	}
	if s.session.LoginInProgress() {
		return domain.ErrLoginInProgress
	}

	s.loginWG.Add(1)
	go func() {
		defer s.loginWG.Done()
		err := s.session.BeginCaptureLogin(s.ctx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrLoginCancelled), errors.Is(err, domain.ErrLoginInProgress):
			s.logger.Info("capture login ended", "reason", err)
		default:
			s.logger.Warn("capture login failed", "error", err)
		}
	}()
	return nil
}

// CancelLogin aborts a running capture.
func (s *DownloadService) CancelLogin() bool {
	return s.session.CancelCaptureLogin()
}

// Logout drops the session.
func (s *DownloadService) Logout(ctx context.Context) error {
	return s.session.Logout(ctx)
}

// ValidateSession probes the session against the platform.
func (s *DownloadService) ValidateSession(ctx context.Context) (domain.AuthStatus, error) {
	err := s.session.Validate(ctx)
	return s.session.Status(), err
}

// AuthStatus returns the session status.
func (s *DownloadService) AuthStatus() domain.AuthStatus {
	return s.session.Status()
}

// Job returns a job snapshot.
func (s *DownloadService) Job(id domain.JobID) (domain.Job, error) {
	return s.scheduler.Snapshot(id)
}

// Jobs returns snapshots of every job in submission order.
func (s *DownloadService) Jobs() []domain.Job {
	return s.scheduler.Jobs()
}

// Group returns a group snapshot.
func (s *DownloadService) Group(id domain.GroupID) (domain.Group, error) {
	return s.scheduler.Group(id)
}

// Groups returns snapshots of every group.
func (s *DownloadService) Groups() []domain.Group {
	return s.scheduler.Groups()
}

// Stats returns scheduler statistics.
func (s *DownloadService) Stats() scheduler.Stats {
	return s.scheduler.Stats()
}

// Close aborts a running login capture and waits for it to return.
func (s *DownloadService) Close() {
	s.cancel()
	s.loginWG.Wait()
}
