package domain

import "time"

// Phase tags what a job is doing when a progress event is produced.
type Phase string

const (
	PhaseMetadata    Phase = "metadata"
	PhaseDownloading Phase = "downloading"
	PhaseMerging     Phase = "merging"
	PhaseDone        Phase = "done"
)

// ProgressEvent is an immutable progress sample for one job.
type ProgressEvent struct {
	JobID JobID `json:"job_id"`
	Bytes int64 `json:"bytes"`
	// TotalBytes is 0 when the stream size is unknown.
	TotalBytes int64         `json:"total_bytes,omitempty"`
	Rate       float64       `json:"rate"` // bytes per second
	ETA        time.Duration `json:"eta"`  // -1 when unknown
	Phase      Phase         `json:"phase"`
	// Terminal is set only on the final event of a job.
	Terminal JobState  `json:"terminal,omitempty"`
	At       time.Time `json:"at"`
}

// IsTerminal reports whether this is the final event for the job.
func (p ProgressEvent) IsTerminal() bool {
	return p.Terminal.IsTerminal()
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (p ProgressEvent) Percent() float64 {
	if p.TotalBytes <= 0 {
		if p.Phase == PhaseDone {
			return 100
		}
		return -1
	}
	pct := float64(p.Bytes) / float64(p.TotalBytes) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// DeriveETA computes the remaining time from bytes, total and rate.
func DeriveETA(bytes, total int64, rate float64) time.Duration {
	if total <= 0 || rate <= 0 || bytes >= total {
		if total > 0 && bytes >= total {
			return 0
		}
		return -1
	}
	remaining := float64(total-bytes) / rate
	return time.Duration(remaining * float64(time.Second))
}
