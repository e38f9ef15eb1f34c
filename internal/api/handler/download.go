package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/repository"
	"github.com/iconidentify/streamfetch/internal/scheduler"
	"github.com/iconidentify/streamfetch/internal/service"
)

// Downloads is the part of the download service the handlers use.
type Downloads interface {
	SubmitURL(ctx context.Context, req service.SubmitRequest) (*service.SubmitResponse, error)
	RetryJob(id domain.JobID) (*service.SubmitResponse, error)
	Formats(ctx context.Context, url string) ([]engine.Format, error)
	History(ctx context.Context, limit int) ([]repository.HistoryEntry, error)
	Progress(id domain.JobID) (service.JobProgress, error)
	CancelJob(id domain.JobID) error
	CancelGroup(id domain.GroupID) error
	CancelAll() int
	Job(id domain.JobID) (domain.Job, error)
	Jobs() []domain.Job
	Group(id domain.GroupID) (domain.Group, error)
	Groups() []domain.Group
	Stats() scheduler.Stats
}

// DownloadHandler handles job and group requests.
type DownloadHandler struct {
	svc    Downloads
	logger *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc Downloads, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		svc:    svc,
		logger: logger,
	}
}

// JobListResponse wraps the job list.
type JobListResponse struct {
	Jobs  []domain.Job `json:"jobs"`
	Total int          `json:"total"`
}

// GroupListResponse wraps the group list.
type GroupListResponse struct {
	Groups []domain.Group `json:"groups"`
	Total  int            `json:"total"`
}

// GroupResponse is a group with its member jobs.
type GroupResponse struct {
	domain.Group
	Jobs []domain.Job `json:"jobs"`
}

// Submit handles POST /api/v1/downloads.
func (h *DownloadHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.svc.SubmitURL(r.Context(), req)
	if err != nil {
		h.logger.Warn("submission rejected", "url", req.URL, "error", err)
		writeDomainError(w, err, "failed to submit download")
		return
	}

	status := http.StatusAccepted
	if len(resp.JobIDs) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// ListJobs handles GET /api/v1/jobs. The optional state and group_id
// query parameters filter the list.
func (h *DownloadHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	state := domain.JobState(r.URL.Query().Get("state"))
	groupID := domain.GroupID(r.URL.Query().Get("group_id"))

	jobs := make([]domain.Job, 0)
	for _, job := range h.svc.Jobs() {
		if state != "" && job.State != state {
			continue
		}
		if groupID != "" && job.GroupID != groupID {
			continue
		}
		jobs = append(jobs, job)
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Total: len(jobs)})
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (h *DownloadHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(domain.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		writeDomainError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/v1/jobs/{jobID}/cancel.
func (h *DownloadHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	if err := h.svc.CancelJob(id); err != nil {
		writeDomainError(w, err, "failed to cancel job")
		return
	}
	job, err := h.svc.Job(id)
	if err != nil {
		writeDomainError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// RetryJob handles POST /api/v1/jobs/{jobID}/retry.
func (h *DownloadHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	resp, err := h.svc.RetryJob(id)
	if err != nil {
		writeDomainError(w, err, "failed to retry job")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// JobProgress handles GET /api/v1/jobs/{jobID}/progress.
func (h *DownloadHandler) JobProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Progress(domain.JobID(chi.URLParam(r, "jobID")))
	if err != nil {
		writeDomainError(w, err, "failed to get progress")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// FormatListResponse wraps the formats of one video.
type FormatListResponse struct {
	URL     string          `json:"url"`
	Formats []engine.Format `json:"formats"`
}

// Formats handles GET /api/v1/formats?url=.
func (h *DownloadHandler) Formats(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	formats, err := h.svc.Formats(r.Context(), url)
	if err != nil {
		h.logger.Warn("format lookup failed", "url", url, "error", err)
		writeDomainError(w, err, "failed to resolve formats")
		return
	}
	if formats == nil {
		formats = []engine.Format{}
	}
	writeJSON(w, http.StatusOK, FormatListResponse{URL: url, Formats: formats})
}

// HistoryResponse wraps completed downloads.
type HistoryResponse struct {
	Entries []repository.HistoryEntry `json:"entries"`
	Total   int                       `json:"total"`
}

// History handles GET /api/v1/history?limit=.
func (h *DownloadHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.svc.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Total: len(entries)})
}

// CancelAll handles POST /api/v1/jobs/cancel-all.
func (h *DownloadHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	n := h.svc.CancelAll()
	writeJSON(w, http.StatusAccepted, map[string]int{"cancelled": n})
}

// ListGroups handles GET /api/v1/groups.
func (h *DownloadHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups := h.svc.Groups()
	if groups == nil {
		groups = []domain.Group{}
	}
	writeJSON(w, http.StatusOK, GroupListResponse{Groups: groups, Total: len(groups)})
}

// GetGroup handles GET /api/v1/groups/{groupID}.
func (h *DownloadHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.svc.Group(domain.GroupID(chi.URLParam(r, "groupID")))
	if err != nil {
		writeDomainError(w, err, "failed to get group")
		return
	}

	resp := GroupResponse{Group: group, Jobs: make([]domain.Job, 0, len(group.JobIDs))}
	for _, id := range group.JobIDs {
		if job, err := h.svc.Job(id); err == nil {
			resp.Jobs = append(resp.Jobs, job)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelGroup handles POST /api/v1/groups/{groupID}/cancel.
func (h *DownloadHandler) CancelGroup(w http.ResponseWriter, r *http.Request) {
	id := domain.GroupID(chi.URLParam(r, "groupID"))
	if err := h.svc.CancelGroup(id); err != nil {
		writeDomainError(w, err, "failed to cancel group")
		return
	}
	group, err := h.svc.Group(id)
	if err != nil {
		writeDomainError(w, err, "failed to get group")
		return
	}
	writeJSON(w, http.StatusAccepted, group)
}
