package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupID is a unique identifier for a job group.
type GroupID string

// String returns the string representation of the GroupID.
func (id GroupID) String() string {
	return string(id)
}

// NewGroupID generates a new group identifier.
func NewGroupID() GroupID {
	return GroupID("grp_" + uuid.New().String()[:8])
}

// SkippedEntry is a playlist entry that could not be turned into a job.
type SkippedEntry struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
	Reason   string `json:"reason"`
}

// GroupCounters are the aggregate member counts of a group.
// Skipped entries are counted separately and never appear in Failed.
type GroupCounters struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

// Terminal reports whether every member job is terminal.
func (c GroupCounters) Terminal() bool {
	return c.Succeeded+c.Failed+c.Cancelled == c.Total
}

// Group is a playlist submission: ordered member jobs plus aggregates.
type Group struct {
	ID             GroupID        `json:"id"`
	SourceURL      string         `json:"source_url"`
	Title          string         `json:"title,omitempty"`
	JobIDs         []JobID        `json:"job_ids"`
	SkippedEntries []SkippedEntry `json:"skipped_entries,omitempty"`
	Counters       GroupCounters  `json:"counters"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    time.Time      `json:"completed_at,omitempty"`
}

// NewGroup creates an empty group for a playlist URL.
func NewGroup(sourceURL, title string) *Group {
	return &Group{
		ID:        NewGroupID(),
		SourceURL: sourceURL,
		Title:     title,
		CreatedAt: time.Now(),
	}
}

// AddJob appends a member in enqueue order.
func (g *Group) AddJob(id JobID) {
	g.JobIDs = append(g.JobIDs, id)
}

// Recompute rebuilds the counters from member states.
func (g *Group) Recompute(states map[JobID]JobState) {
	c := GroupCounters{Total: len(g.JobIDs), Skipped: len(g.SkippedEntries)}
	for _, id := range g.JobIDs {
		switch states[id] {
		case JobStateQueued, JobStateExpanding:
			c.Queued++
		case JobStateRunning, JobStateRetrying:
			c.Running++
		case JobStateSucceeded:
			c.Succeeded++
		case JobStateFailed:
			c.Failed++
		case JobStateCancelled:
			c.Cancelled++
		}
	}
	g.Counters = c
	if c.Terminal() && g.CompletedAt.IsZero() {
		g.CompletedAt = time.Now()
	}
}

// Snapshot returns a copy safe to hand to readers.
func (g *Group) Snapshot() Group {
	cp := *g
	cp.JobIDs = append([]JobID(nil), g.JobIDs...)
	cp.SkippedEntries = append([]SkippedEntry(nil), g.SkippedEntries...)
	return cp
}
