package ui

import (
	"sync"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// model is the client-side view of the server, rebuilt from snapshots and
// kept current by applying streamed events.
type model struct {
	mu        sync.RWMutex
	jobs      map[domain.JobID]domain.Job
	order     []domain.JobID
	groups    map[domain.GroupID]domain.Group
	auth      domain.AuthStatus
	events    []domain.Event
	maxEvents int
}

func newModel(maxEvents int) *model {
	if maxEvents <= 0 {
		maxEvents = 200
	}
	return &model{
		jobs:      make(map[domain.JobID]domain.Job),
		groups:    make(map[domain.GroupID]domain.Group),
		maxEvents: maxEvents,
	}
}

// reset replaces jobs, groups and auth with a fresh snapshot. Recent events
// are kept.
func (m *model) reset(jobs []domain.Job, groups []domain.Group, auth domain.AuthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs = make(map[domain.JobID]domain.Job, len(jobs))
	m.order = m.order[:0]
	for _, j := range jobs {
		m.upsertJobLocked(j)
	}
	m.groups = make(map[domain.GroupID]domain.Group, len(groups))
	for _, g := range groups {
		m.groups[g.ID] = g
	}
	m.auth = auth
}

// apply folds one event into the model.
func (m *model) apply(e domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Kind {
	case domain.EventJobStateChanged:
		if e.Job != nil {
			job := *e.Job
			if job.LastProgress == nil {
				if prev, ok := m.jobs[job.ID]; ok {
					job.LastProgress = prev.LastProgress
				}
			}
			m.upsertJobLocked(job)
		}
	case domain.EventProgressUpdated:
		if e.Progress != nil {
			if job, ok := m.jobs[e.Progress.JobID]; ok {
				p := *e.Progress
				job.LastProgress = &p
				m.jobs[job.ID] = job
			}
		}
		// Progress samples are too chatty for the events pane.
		return
	case domain.EventGroupAggregateChanged, domain.EventGroupCompleted, domain.EventExpansionCompleted:
		if e.Group != nil {
			m.groups[e.Group.ID] = *e.Group
		}
	case domain.EventAuthStateChanged:
		if e.Auth != nil {
			m.auth = *e.Auth
		}
	}

	m.events = append(m.events, e)
	if len(m.events) > m.maxEvents {
		m.events = append(m.events[:0], m.events[len(m.events)-m.maxEvents:]...)
	}
}

func (m *model) upsertJobLocked(j domain.Job) {
	if _, ok := m.jobs[j.ID]; !ok {
		m.order = append(m.order, j.ID)
	}
	m.jobs[j.ID] = j
}

// jobList returns jobs in first-seen order.
func (m *model) jobList() []domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id])
	}
	return out
}

func (m *model) job(id domain.JobID) (domain.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

func (m *model) group(id domain.GroupID) (domain.Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	return g, ok
}

func (m *model) authStatus() domain.AuthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auth
}

// recentEvents returns up to n events, newest first.
func (m *model) recentEvents(n int) []domain.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > len(m.events) {
		n = len(m.events)
	}
	out := make([]domain.Event, 0, n)
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.events[i])
	}
	return out
}

// counts tallies jobs by state.
func (m *model) counts() map[domain.JobState]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[domain.JobState]int)
	for _, j := range m.jobs {
		out[j.State]++
	}
	return out
}
