package scheduler

import (
	"context"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// Prune forgets finished work older than olderThan and returns the number
// of jobs removed.
func (s *Scheduler) Prune(olderThan time.Duration) int {
	return s.PruneBefore(time.Now().Add(-olderThan))
}

// PruneBefore removes terminal standalone jobs that finished before cutoff
// and completed groups, with all their members, that completed before it.
// Members of unfinished groups are kept so counters stay exact.
func (s *Scheduler) PruneBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	groups, _ := s.groups.List(s.ctx)
	for _, group := range groups {
		s.groupsMu.Lock()
		done := !group.CompletedAt.IsZero() && group.CompletedAt.Before(cutoff)
		members := append([]domain.JobID(nil), group.JobIDs...)
		s.groupsMu.Unlock()
		if !done {
			continue
		}
		for _, id := range members {
			if job, err := s.jobs.Get(s.ctx, id); err == nil && job.State.IsTerminal() {
				s.forgetLocked(job)
				removed++
			}
		}
		s.groups.Delete(s.ctx, group.ID)
	}

	all, _ := s.jobs.List(s.ctx)
	for _, job := range all {
		if job.GroupID != "" || !job.State.IsTerminal() || !job.FinishedAt.Before(cutoff) {
			continue
		}
		s.forgetLocked(job)
		removed++
	}

	if removed > 0 {
		s.logger.Info("pruned finished jobs", "count", removed, "cutoff", cutoff)
	}
	return removed
}

func (s *Scheduler) forgetLocked(job *domain.Job) {
	if job.State == domain.JobStateSucceeded {
		s.prunedSucceeded[job.SourceID] = true
	}
	s.jobs.Delete(s.ctx, job.ID)
	s.progress.Forget(job.ID)
}

// RunRetention prunes jobs older than keep every interval until ctx is done.
func (s *Scheduler) RunRetention(ctx context.Context, interval, keep time.Duration) {
	if keep <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune(keep)
		}
	}
}
