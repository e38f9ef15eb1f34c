package expander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iconidentify/streamfetch/internal/domain"
	"github.com/iconidentify/streamfetch/internal/engine"
	"github.com/iconidentify/streamfetch/internal/scheduler"
)

// Options carries the per-submission job settings.
type Options struct {
	Format       domain.FormatSelection
	OutputDir    string
	RequiresAuth bool
	MaxAttempts  int
}

// Expansion is the result of expanding one URL.
type Expansion struct {
	Source Source
	// Group is nil for single items.
	Group      *domain.Group
	Jobs       []*domain.Job
	Skipped    []domain.SkippedEntry
	Duplicates int
}

// Expander turns URLs into jobs, listing playlists through the engine.
type Expander struct {
	lister   engine.Lister
	registry *Registry
	creds    scheduler.CredentialSource
	events   domain.EventPublisher
	logger   *slog.Logger
}

// New creates an expander. creds may be nil for anonymous listing.
func New(lister engine.Lister, registry *Registry, creds scheduler.CredentialSource, events domain.EventPublisher, logger *slog.Logger) *Expander {
	return &Expander{
		lister:   lister,
		registry: registry,
		creds:    creds,
		events:   events,
		logger:   logger.With("component", "expander"),
	}
}

// Expand classifies rawURL and builds its jobs. Sources already known to
// the registry are counted in Duplicates instead of producing jobs, and
// so are repeats within one playlist.
func (e *Expander) Expand(ctx context.Context, rawURL string, opts Options) (*Expansion, error) {
	src, err := Classify(rawURL)
	if err != nil {
		return nil, err
	}

	if src.Kind == KindSingle {
		exp := &Expansion{Source: src}
		known, err := e.known(ctx, src.SourceID)
		if err != nil {
			return nil, err
		}
		if known {
			exp.Duplicates = 1
			return exp, nil
		}
		job := domain.NewJob(src.SourceID, src.URL, opts.Format, opts.OutputDir, opts.MaxAttempts)
		job.RequiresAuth = opts.RequiresAuth
		exp.Jobs = []*domain.Job{job}
		return exp, nil
	}

	return e.expandPlaylist(ctx, src, opts)
}

func (e *Expander) expandPlaylist(ctx context.Context, src Source, opts Options) (*Expansion, error) {
	logger := e.logger.With("playlist_id", src.SourceID)

	var (
		creds      *domain.CredentialSet
		generation uint64
	)
	if e.creds != nil {
		if c, gen, err := e.creds.Credentials(); err == nil {
			creds, generation = c, gen
		}
	}

	logger.Info("listing playlist", "url", src.URL, "authenticated", creds != nil)
	pl, err := e.lister.ListPlaylist(ctx, src.URL, creds)
	if err != nil {
		if creds != nil && errors.Is(err, domain.ErrUnauthorized) {
			if e.creds.ReportUnauthorized(generation, engine.Describe(err)) {
				logger.Warn("session rejected while listing playlist", "error", err)
			}
		}
		return nil, fmt.Errorf("list playlist: %w", err)
	}
	if len(pl.Entries) == 0 {
		return nil, fmt.Errorf("list playlist: playlist is empty: %w", domain.ErrNotFound)
	}

	group := domain.NewGroup(src.URL, pl.Title)
	exp := &Expansion{Source: src, Group: group}
	seen := make(map[string]bool, len(pl.Entries))

	for _, entry := range pl.Entries {
		if entry.Unavailable {
			exp.Skipped = append(exp.Skipped, domain.SkippedEntry{
				SourceID: entry.SourceID,
				Title:    entry.Title,
				Reason:   entry.Reason,
			})
			continue
		}
		if seen[entry.SourceID] {
			exp.Duplicates++
			continue
		}
		seen[entry.SourceID] = true

		known, err := e.known(ctx, entry.SourceID)
		if err != nil {
			return nil, err
		}
		if known {
			exp.Duplicates++
			continue
		}

		job := domain.NewJob(entry.SourceID, entry.URL, opts.Format, opts.OutputDir, opts.MaxAttempts)
		job.Title = entry.Title
		job.RequiresAuth = opts.RequiresAuth
		job.State = domain.JobStateExpanding
		exp.Jobs = append(exp.Jobs, job)
	}
	group.SkippedEntries = exp.Skipped

	logger.Info("playlist expanded",
		"entries", len(pl.Entries),
		"jobs", len(exp.Jobs),
		"skipped", len(exp.Skipped),
		"duplicates", exp.Duplicates,
	)
	e.publish(exp, pl.Title)
	return exp, nil
}

// Recheck drops jobs whose source became known after exp was built, for
// example by a concurrent submission, and counts them as duplicates.
// Callers serialize Recheck with the enqueue that follows it.
func (e *Expander) Recheck(ctx context.Context, exp *Expansion) error {
	kept := exp.Jobs[:0]
	for _, job := range exp.Jobs {
		known, err := e.known(ctx, job.SourceID)
		if err != nil {
			return err
		}
		if known {
			exp.Duplicates++
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(exp.Jobs); i++ {
		exp.Jobs[i] = nil
	}
	exp.Jobs = kept
	return nil
}

func (e *Expander) known(ctx context.Context, sourceID string) (bool, error) {
	if e.registry == nil {
		return false, nil
	}
	return e.registry.Known(ctx, sourceID)
}

func (e *Expander) publish(exp *Expansion, title string) {
	if e.events == nil {
		return
	}
	severity := domain.EventSeverityInfo
	if len(exp.Skipped) > 0 {
		severity = domain.EventSeverityWarning
	}
	e.events.Publish(domain.Event{
		Kind:     domain.EventExpansionCompleted,
		Severity: severity,
		Message:  fmt.Sprintf("%d jobs from %q, %d skipped, %d duplicates", len(exp.Jobs), title, len(exp.Skipped), exp.Duplicates),
		GroupID:  exp.Group.ID,
		Metadata: domain.EventMetadata{
			"playlist_id": exp.Source.SourceID,
			"jobs":        len(exp.Jobs),
			"skipped":     len(exp.Skipped),
			"duplicates":  exp.Duplicates,
		}.ToJSON(),
	})
}
