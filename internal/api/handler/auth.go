package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// maxCookieBody bounds uploaded cookie jars.
const maxCookieBody = 1 << 20

// Session is the part of the download service that manages the login.
type Session interface {
	ImportCookies(ctx context.Context, raw string) (domain.AuthStatus, error)
	BeginCaptureLogin() error
	CancelLogin() bool
	Logout(ctx context.Context) error
	ValidateSession(ctx context.Context) (domain.AuthStatus, error)
	AuthStatus() domain.AuthStatus
}

// AuthHandler handles session requests.
type AuthHandler struct {
	svc    Session
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc Session, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger,
	}
}

// ImportCookiesRequest is the JSON form of a cookie import.
type ImportCookiesRequest struct {
	Cookies string `json:"cookies"`
}

// Status handles GET /api/v1/auth.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.AuthStatus())
}

// ImportCookies handles POST /api/v1/auth/cookies. The body is either a
// Netscape cookies.txt or JSON {"cookies": "..."}.
func (h *AuthHandler) ImportCookies(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCookieBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxCookieBody {
		writeError(w, http.StatusRequestEntityTooLarge, "cookie file too large")
		return
	}

	raw := string(body)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		var req ImportCookiesRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		raw = req.Cookies
	}

	status, err := h.svc.ImportCookies(r.Context(), raw)
	if err != nil {
		h.logger.Warn("cookie import rejected", "error", err)
		writeDomainError(w, err, "failed to import cookies")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// BeginLogin handles POST /api/v1/auth/login. The capture runs in the
// background; its outcome arrives as auth events.
func (h *AuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.BeginCaptureLogin(); err != nil {
		writeDomainError(w, err, "failed to start login")
		return
	}
	writeJSON(w, http.StatusAccepted, h.svc.AuthStatus())
}

// CancelLogin handles POST /api/v1/auth/login/cancel.
func (h *AuthHandler) CancelLogin(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CancelLogin() {
		writeError(w, http.StatusConflict, "no login in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancelled": true})
}

// Validate handles POST /api/v1/auth/validate.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.ValidateSession(r.Context())
	if err != nil {
		h.logger.Info("session validation failed", "error", err, "state", status.State)
		writeDomainError(w, err, "failed to validate session")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context()); err != nil {
		h.logger.Error("logout failed", "error", err)
		writeDomainError(w, err, "failed to clear stored session")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.AuthStatus())
}
