package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iconidentify/streamfetch/internal/api/handler"
	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/events"
	"github.com/iconidentify/streamfetch/internal/repository"
	"github.com/iconidentify/streamfetch/internal/scheduler"
	"github.com/iconidentify/streamfetch/internal/service"
)

type stubService struct{}

func (stubService) SubmitURL(ctx context.Context, req service.SubmitRequest) (*service.SubmitResponse, error) {
	return &service.SubmitResponse{JobIDs: []domain.JobID{"job_1"}}, nil
}
func (stubService) RetryJob(id domain.JobID) (*service.SubmitResponse, error) {
	return nil, domain.ErrJobNotFound
}
func (stubService) Formats(ctx context.Context, url string) ([]engine.Format, error) {
	return []engine.Format{{ID: "18", Ext: "mp4"}}, nil
}
func (stubService) History(ctx context.Context, limit int) ([]repository.HistoryEntry, error) {
	return []repository.HistoryEntry{}, nil
}
func (stubService) Progress(id domain.JobID) (service.JobProgress, error) {
	return service.JobProgress{}, domain.ErrJobNotFound
}
func (stubService) CancelJob(id domain.JobID) error     { return domain.ErrJobNotFound }
func (stubService) CancelGroup(id domain.GroupID) error { return domain.ErrGroupNotFound }
func (stubService) CancelAll() int                      { return 0 }
func (stubService) Job(id domain.JobID) (domain.Job, error) {
	return domain.Job{}, domain.ErrJobNotFound
}
func (stubService) Jobs() []domain.Job { return nil }
func (stubService) Group(id domain.GroupID) (domain.Group, error) {
	return domain.Group{}, domain.ErrGroupNotFound
}
func (stubService) Groups() []domain.Group { return nil }
func (stubService) Stats() scheduler.Stats { return scheduler.Stats{Concurrency: 2} }

func (stubService) ImportCookies(ctx context.Context, raw string) (domain.AuthStatus, error) {
	return domain.AuthStatus{State: domain.AuthStateAuthenticated}, nil
}
func (stubService) BeginCaptureLogin() error { return nil }
func (stubService) CancelLogin() bool        { return false }
func (stubService) Logout(ctx context.Context) error {
	return nil
}
func (stubService) ValidateSession(ctx context.Context) (domain.AuthStatus, error) {
	return domain.AuthStatus{}, domain.ErrNotAuthenticated
}
func (stubService) AuthStatus() domain.AuthStatus {
	return domain.AuthStatus{State: domain.AuthStateLoggedOut}
}

func newTestRouter(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus, err := events.New(events.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("events.New: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	svc := stubService{}
	return NewRouter(
		handler.NewDownloadHandler(svc, logger),
		handler.NewAuthHandler(svc, logger),
		handler.NewEventHandler(bus, logger),
		handler.NewHealthHandler(svc, bus, ""),
		apiKey,
		logger,
	)
}

func TestRouter_Routes(t *testing.T) {
	r := newTestRouter(t, "")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/v1/stats", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs", http.StatusOK},
		{http.MethodGet, "/api/v1/jobs/job_x", http.StatusNotFound},
		{http.MethodPost, "/api/v1/jobs/job_x/cancel", http.StatusNotFound},
		{http.MethodPost, "/api/v1/jobs/cancel-all", http.StatusAccepted},
		{http.MethodPost, "/api/v1/jobs/job_x/retry", http.StatusNotFound},
		{http.MethodGet, "/api/v1/jobs/job_x/progress", http.StatusNotFound},
		{http.MethodGet, "/api/v1/formats?url=https://youtu.be/dQw4w9WgXcQ", http.StatusOK},
		{http.MethodGet, "/api/v1/history", http.StatusOK},
		{http.MethodGet, "/api/v1/groups", http.StatusOK},
		{http.MethodGet, "/api/v1/groups/grp_x", http.StatusNotFound},
		{http.MethodGet, "/api/v1/auth", http.StatusOK},
		{http.MethodPost, "/api/v1/auth/login", http.StatusAccepted},
		{http.MethodPost, "/api/v1/auth/login/cancel", http.StatusConflict},
		{http.MethodPost, "/api/v1/auth/validate", http.StatusConflict},
		{http.MethodPost, "/api/v1/auth/logout", http.StatusOK},
		{http.MethodGet, "/api/v1/events/recent", http.StatusOK},
		{http.MethodGet, "/api/v1/events/history", http.StatusOK},
		{http.MethodDelete, "/api/v1/jobs", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_APIKey(t *testing.T) {
	r := newTestRouter(t, "s3cret")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/health", "", http.StatusOK},
		{"api without key", "/api/v1/jobs", "", http.StatusUnauthorized},
		{"api with wrong key", "/api/v1/jobs", "nope", http.StatusUnauthorized},
		{"api with key", "/api/v1/jobs", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
