package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/expander"
	"github.com/iconidentify/streamfetch/internal/repository"
	"github.com/iconidentify/streamfetch/internal/scheduler"
	"github.com/iconidentify/streamfetch/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDownloads is a test implementation of Downloads.
type mockDownloads struct {
	mu        sync.Mutex
	submitted []service.SubmitRequest
	submitErr error
	submitRes *service.SubmitResponse
	jobs      map[domain.JobID]domain.Job
	order     []domain.JobID
	groups    map[domain.GroupID]domain.Group
	cancelErr error
	stats     scheduler.Stats

	formats    []engine.Format
	formatsErr error
	formatURL  string
	history    []repository.HistoryEntry
	limit      int
	samples    map[domain.JobID][]domain.ProgressEvent
}

func newMockDownloads() *mockDownloads {
	return &mockDownloads{
		jobs:   make(map[domain.JobID]domain.Job),
		groups: make(map[domain.GroupID]domain.Group),
	}
}

func (m *mockDownloads) addJob(job domain.Job) {
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
}

func (m *mockDownloads) SubmitURL(ctx context.Context, req service.SubmitRequest) (*service.SubmitResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitRes, nil
}

func (m *mockDownloads) RetryJob(id domain.JobID) (*service.SubmitResponse, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !job.CanRetry() {
		return nil, domain.ErrNotRetryable
	}
	next := job.Resubmission()
	m.addJob(*next)
	return &service.SubmitResponse{Kind: expander.KindSingle, JobIDs: []domain.JobID{next.ID}, Message: "Queued 1 of 1"}, nil
}

func (m *mockDownloads) Formats(ctx context.Context, url string) ([]engine.Format, error) {
	m.formatURL = url
	return m.formats, m.formatsErr
}

func (m *mockDownloads) History(ctx context.Context, limit int) ([]repository.HistoryEntry, error) {
	m.limit = limit
	return m.history, nil
}

func (m *mockDownloads) Progress(id domain.JobID) (service.JobProgress, error) {
	job, ok := m.jobs[id]
	if !ok {
		return service.JobProgress{}, domain.ErrJobNotFound
	}
	return service.JobProgress{JobID: id, Latest: job.LastProgress, Samples: m.samples[id]}, nil
}

func (m *mockDownloads) CancelJob(id domain.JobID) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.State.IsTerminal() {
		job.State = domain.JobStateCancelled
		m.jobs[id] = job
	}
	return nil
}

func (m *mockDownloads) CancelGroup(id domain.GroupID) error {
	group, ok := m.groups[id]
	if !ok {
		return domain.ErrGroupNotFound
	}
	for _, jobID := range group.JobIDs {
		m.CancelJob(jobID)
	}
	return nil
}

func (m *mockDownloads) CancelAll() int {
	n := 0
	for id, job := range m.jobs {
		if !job.State.IsTerminal() {
			m.CancelJob(id)
			n++
		}
	}
	return n
}

func (m *mockDownloads) Job(id domain.JobID) (domain.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (m *mockDownloads) Jobs() []domain.Job {
	out := make([]domain.Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id])
	}
	return out
}

func (m *mockDownloads) Group(id domain.GroupID) (domain.Group, error) {
	group, ok := m.groups[id]
	if !ok {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	return group, nil
}

func (m *mockDownloads) Groups() []domain.Group {
	var out []domain.Group
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out
}

func (m *mockDownloads) Stats() scheduler.Stats {
	return m.stats
}

// mockSession is a test implementation of Session.
type mockSession struct {
	status      domain.AuthStatus
	imported    []string
	importErr   error
	beginErr    error
	begun       int
	loginActive bool
	validateErr error
	logoutErr   error
}

func (m *mockSession) ImportCookies(ctx context.Context, raw string) (domain.AuthStatus, error) {
	m.imported = append(m.imported, raw)
	if m.importErr != nil {
		return m.status, m.importErr
	}
	m.status = domain.AuthStatus{State: domain.AuthStateAuthenticated, Source: "import", CookieCount: 1}
	return m.status, nil
}

func (m *mockSession) BeginCaptureLogin() error {
	if m.beginErr != nil {
		return m.beginErr
	}
	m.begun++
	m.status.State = domain.AuthStateAuthenticating
	return nil
}

func (m *mockSession) CancelLogin() bool {
	return m.loginActive
}

func (m *mockSession) Logout(ctx context.Context) error {
	if m.logoutErr != nil {
		return m.logoutErr
	}
	m.status = domain.AuthStatus{State: domain.AuthStateLoggedOut}
	return nil
}

func (m *mockSession) ValidateSession(ctx context.Context) (domain.AuthStatus, error) {
	if m.validateErr != nil {
		return m.status, m.validateErr
	}
	return m.status, nil
}

func (m *mockSession) AuthStatus() domain.AuthStatus {
	return m.status
}

// serve routes a single request through a chi router so URL params resolve.
func serve(method, pattern, target string, body string, h http.HandlerFunc, headers ...string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
