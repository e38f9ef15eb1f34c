package expander

import (
	"context"
	"fmt"
	"strings"

	"github.com/iconidentify/streamfetch/internal/scheduler"
)

// Scope selects which earlier jobs make a source a duplicate.
type Scope string

const (
	// ScopeActive matches only non-terminal jobs.
	ScopeActive Scope = "active"
	// ScopeSession also matches jobs that succeeded in this run.
	ScopeSession Scope = "session"
	// ScopeHistory also matches jobs completed in earlier runs.
	ScopeHistory Scope = "history"
)

// ParseScope validates a configured scope name.
func ParseScope(s string) (Scope, error) {
	switch scope := Scope(strings.ToLower(strings.TrimSpace(s))); scope {
	case ScopeActive, ScopeSession, ScopeHistory:
		return scope, nil
	case "":
		return ScopeSession, nil
	default:
		return "", fmt.Errorf("unknown dedupe scope %q", s)
	}
}

// JobIndex reports what the scheduler holds for a source.
type JobIndex interface {
	SourceStatus(sourceID string) scheduler.SourceStatus
}

// History reports sources completed in earlier runs.
type History interface {
	Contains(ctx context.Context, sourceID string) (bool, error)
}

// Registry answers whether a source was already submitted.
type Registry struct {
	scope   Scope
	jobs    JobIndex
	history History
}

// NewRegistry creates a registry. history may be nil unless scope is
// ScopeHistory.
func NewRegistry(scope Scope, jobs JobIndex, history History) *Registry {
	return &Registry{scope: scope, jobs: jobs, history: history}
}

// Known reports whether sourceID counts as a duplicate. Failed and
// cancelled jobs never do, so they can be resubmitted.
func (r *Registry) Known(ctx context.Context, sourceID string) (bool, error) {
	st := r.jobs.SourceStatus(sourceID)
	if st.Active {
		return true, nil
	}
	if r.scope == ScopeActive {
		return false, nil
	}
	if st.Succeeded {
		return true, nil
	}
	if r.scope != ScopeHistory || r.history == nil {
		return false, nil
	}
	ok, err := r.history.Contains(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return ok, nil
}
