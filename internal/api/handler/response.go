package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iconidentify/streamfetch/internal/auth"
	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrGroupNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotAuthenticated),
		errors.Is(err, domain.ErrLoginInProgress),
		errors.Is(err, domain.ErrLoginCancelled),
		errors.Is(err, domain.ErrNotRetryable),
		errors.Is(err, domain.ErrSourceActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSchedulerHalted), errors.Is(err, domain.ErrDiskFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrSchedulerStopped), errors.Is(err, service.ErrFormatsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrCaptureUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with its mapped status. Unmapped errors are
// reported generically; their detail only goes to the log.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, fallback)
		return
	}
	writeError(w, status, err.Error())
}
