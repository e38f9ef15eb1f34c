// Package progress throttles raw engine progress into a stream a
// presentation layer can keep up with.
package progress

import (
	"sync"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// rateAlpha weights the newest instantaneous rate in the moving average.
const rateAlpha = 0.3

// Config configures the aggregator.
type Config struct {
	// MaxUpdatesPerSecond bounds forwarded samples per job. Zero disables throttling.
	MaxUpdatesPerSecond float64
	// LogSamples is how many recent raw samples are kept per job for
	// diagnostics. Zero keeps none.
	LogSamples int
}

type jobTrack struct {
	groupID   domain.GroupID
	latest    domain.ProgressEvent
	hasSample bool
	lastEmit  time.Time
	lastPhase domain.Phase
	rate      float64
	terminal  bool
	log       []domain.ProgressEvent
}

// Aggregator accepts raw progress at any rate and forwards a rate-limited
// summary to a publisher. The terminal event of a job is forwarded exactly
// once and never throttled.
type Aggregator struct {
	cfg      Config
	sink     domain.EventPublisher
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	jobs map[domain.JobID]*jobTrack
}

// NewAggregator creates an aggregator publishing to sink.
func NewAggregator(cfg Config, sink domain.EventPublisher) *Aggregator {
	a := &Aggregator{
		cfg:  cfg,
		sink: sink,
		now:  time.Now,
		jobs: make(map[domain.JobID]*jobTrack),
	}
	if cfg.MaxUpdatesPerSecond > 0 {
		a.interval = time.Duration(float64(time.Second) / cfg.MaxUpdatesPerSecond)
	}
	return a
}

// Track associates a job with its group so forwarded events carry it.
func (a *Aggregator) Track(jobID domain.JobID, groupID domain.GroupID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.track(jobID).groupID = groupID
}

func (a *Aggregator) track(jobID domain.JobID) *jobTrack {
	t, ok := a.jobs[jobID]
	if !ok {
		t = &jobTrack{}
		a.jobs[jobID] = t
	}
	return t
}

// Observe records a raw sample and reports whether it was forwarded.
// Samples arriving after the job's terminal event are ignored.
func (a *Aggregator) Observe(ev domain.ProgressEvent) bool {
	if ev.IsTerminal() {
		return a.Complete(ev.JobID, ev.Terminal)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.track(ev.JobID)
	if t.terminal {
		return false
	}

	now := a.now()
	if ev.At.IsZero() {
		ev.At = now
	}

	if ev.Rate > 0 {
		t.rate = ev.Rate
	} else if t.hasSample {
		if dt := ev.At.Sub(t.latest.At).Seconds(); dt > 0 && ev.Bytes >= t.latest.Bytes {
			inst := float64(ev.Bytes-t.latest.Bytes) / dt
			if t.rate == 0 {
				t.rate = inst
			} else {
				t.rate = rateAlpha*inst + (1-rateAlpha)*t.rate
			}
		}
		ev.Rate = t.rate
	}
	if ev.ETA <= 0 {
		ev.ETA = domain.DeriveETA(ev.Bytes, ev.TotalBytes, ev.Rate)
	}

	phaseChanged := !t.hasSample || ev.Phase != t.lastPhase
	t.latest = ev
	t.hasSample = true
	a.record(t, ev)

	if !phaseChanged && a.interval > 0 && now.Sub(t.lastEmit) < a.interval {
		return false
	}

	t.lastEmit = now
	t.lastPhase = ev.Phase
	a.publish(t, ev)
	return true
}

// Complete forwards the terminal event for a job. It reports false when a
// terminal event was already forwarded.
func (a *Aggregator) Complete(jobID domain.JobID, state domain.JobState) bool {
	if !state.IsTerminal() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.track(jobID)
	if t.terminal {
		return false
	}
	t.terminal = true

	final := domain.ProgressEvent{
		JobID:      jobID,
		Bytes:      t.latest.Bytes,
		TotalBytes: t.latest.TotalBytes,
		Rate:       t.latest.Rate,
		Phase:      t.latest.Phase,
		Terminal:   state,
		At:         a.now(),
	}
	if state == domain.JobStateSucceeded {
		final.Phase = domain.PhaseDone
		if final.TotalBytes > 0 {
			final.Bytes = final.TotalBytes
		}
		final.ETA = 0
	} else {
		final.ETA = -1
	}

	t.latest = final
	t.hasSample = true
	a.record(t, final)
	a.publish(t, final)
	return true
}

// record appends ev to the job's sample window, dropping the oldest
// sample once LogSamples are held.
func (a *Aggregator) record(t *jobTrack, ev domain.ProgressEvent) {
	if a.cfg.LogSamples <= 0 {
		return
	}
	if len(t.log) >= a.cfg.LogSamples {
		copy(t.log, t.log[1:])
		t.log = t.log[:len(t.log)-1]
	}
	t.log = append(t.log, ev)
}

// publish is called with a.mu held so a job's events leave in order.
func (a *Aggregator) publish(t *jobTrack, ev domain.ProgressEvent) {
	if a.sink == nil {
		return
	}
	severity := domain.EventSeverityInfo
	switch ev.Terminal {
	case domain.JobStateSucceeded:
		severity = domain.EventSeveritySuccess
	case domain.JobStateFailed:
		severity = domain.EventSeverityError
	}
	a.sink.Publish(domain.Event{
		Kind:     domain.EventProgressUpdated,
		Severity: severity,
		JobID:    ev.JobID,
		GroupID:  t.groupID,
		Progress: &ev,
	})
}

// Latest returns the most recent sample for a job, forwarded or not.
func (a *Aggregator) Latest(jobID domain.JobID) (domain.ProgressEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.jobs[jobID]
	if !ok || !t.hasSample {
		return domain.ProgressEvent{}, false
	}
	return t.latest, true
}

// Log returns the retained raw samples for a job, oldest first.
func (a *Aggregator) Log(jobID domain.JobID) []domain.ProgressEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.jobs[jobID]
	if !ok {
		return nil
	}
	return append([]domain.ProgressEvent(nil), t.log...)
}

// Forget drops all state for a job. The scheduler calls it when a finished
// job is pruned.
func (a *Aggregator) Forget(jobID domain.JobID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, jobID)
}
