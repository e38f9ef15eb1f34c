package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// Error is a classified engine failure. Message is safe to show users;
// Detail keeps the tail of the tool output for logs.
type Error struct {
	Kind      domain.FailureKind
	Message   string
	Detail    string
	Forbidden bool
	DiskFull  bool
}

func (e *Error) Error() string {
	return e.Message
}

// Is maps the classification onto the domain sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case domain.ErrUnauthorized:
		return e.Kind == domain.FailureUnauthorized
	case domain.ErrNotFound:
		return e.Kind == domain.FailureNotFound
	case domain.ErrTransient:
		return e.Kind == domain.FailureTransient
	case domain.ErrFatalEngine:
		return e.Kind == domain.FailureFatal
	case domain.ErrDiskFull:
		return e.DiskFull
	}
	return false
}

type rule struct {
	needles   []string
	kind      domain.FailureKind
	message   string
	forbidden bool
	diskFull  bool
}

// Rules are checked in order; the most specific come first.
var rules = []rule{
	{needles: []string{"no space left on device", "disk quota exceeded"},
		kind: domain.FailureFatal, message: "Not enough disk space", diskFull: true},
	{needles: []string{"ffmpeg not found", "ffprobe and ffmpeg not found", "ffmpeg is not installed"},
		kind: domain.FailureFatal, message: "ffmpeg is required to merge formats"},
	{needles: []string{"requested format is not available"},
		kind: domain.FailureNotFound, message: "Requested quality is not available"},
	{needles: []string{"join this channel", "members-only", "members only"},
		kind: domain.FailureNotFound, message: "This video requires channel membership"},
	{needles: []string{"private video", "video is private"},
		kind: domain.FailureNotFound, message: "This video is private"},
	{needles: []string{"confirm your age", "age-restricted", "age restricted", "inappropriate for some users"},
		kind: domain.FailureUnauthorized, message: "Age-restricted video - login required"},
	{needles: []string{"sign in to confirm", "sign in", "login required", "cookies are no longer valid", "http error 401", "use --cookies"},
		kind: domain.FailureUnauthorized, message: "Login required to access this video"},
	{needles: []string{"copyright"},
		kind: domain.FailureNotFound, message: "Video blocked due to copyright"},
	{needles: []string{"http error 403", "403: forbidden", "forbidden"},
		kind: domain.FailureFatal, message: "HTTP 403 Forbidden: the platform refused the transfer, the engine may need an update", forbidden: true},
	{needles: []string{"video unavailable", "is unavailable", "has been removed", "does not exist", "http error 404", "not found", "unsupported url", "incomplete youtube id"},
		kind: domain.FailureNotFound, message: "This video is unavailable"},
	{needles: []string{"timed out", "timeout", "connection reset", "connection refused", "temporary failure", "network is unreachable",
		"http error 5", "http error 429", "too many requests", "unable to download", "incomplete read", "eof occurred", "giving up after"},
		kind: domain.FailureTransient, message: "Network error while downloading"},
}

// ClassifyOutput classifies the diagnostic output of a failed run.
func ClassifyOutput(output string) *Error {
	lower := strings.ToLower(output)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return &Error{
					Kind:      r.kind,
					Message:   r.message,
					Detail:    tail(output, 512),
					Forbidden: r.forbidden,
					DiskFull:  r.diskFull,
				}
			}
		}
	}
	return &Error{
		Kind:    domain.FailureFatal,
		Message: "Unexpected engine failure",
		Detail:  tail(output, 512),
	}
}

// Classify maps any error into a failure kind. Context cancellation maps to
// cancelled; already classified errors keep their kind.
func Classify(err error) domain.FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return domain.FailureCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTransient
	}
	return domain.KindOf(err)
}

// Describe returns the user-facing message for err. Raw tool output never
// reaches the user.
func Describe(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Message
	}
	switch Classify(err) {
	case domain.FailureCancelled:
		return "Cancelled"
	case domain.FailureUnauthorized:
		return "Login required to access this video"
	case domain.FailureNotFound:
		return "This video is unavailable"
	case domain.FailureTransient:
		return "Network error while downloading"
	}
	if errors.Is(err, domain.ErrDiskFull) {
		return "Not enough disk space"
	}
	return "Unexpected engine failure"
}

// IsForbidden reports whether err is an HTTP 403 refusal.
func IsForbidden(err error) bool {
	var ee *Error
	return errors.As(err, &ee) && ee.Forbidden
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
