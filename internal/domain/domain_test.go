package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Job Tests
// =============================================================================

func TestJobState_IsTerminal(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{JobStateQueued, false},
		{JobStateExpanding, false},
		{JobStateRunning, false},
		{JobStateRetrying, false},
		{JobStateSucceeded, true},
		{JobStateFailed, true},
		{JobStateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobStateQueued, JobStateRunning, true},
		{JobStateQueued, JobStateCancelled, true},
		{JobStateQueued, JobStateSucceeded, false},
		{JobStateRunning, JobStateRetrying, true},
		{JobStateRunning, JobStateSucceeded, true},
		{JobStateRetrying, JobStateRunning, true},
		{JobStateRetrying, JobStateSucceeded, false},
		{JobStateExpanding, JobStateQueued, true},
		{JobStateSucceeded, JobStateRunning, false},
		{JobStateCancelled, JobStateCancelled, false},
		{JobStateFailed, JobStateQueued, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_Transition(t *testing.T) {
	job := NewJob("abc", "https://youtu.be/abc", FormatSelection{}, "/tmp", 3)

	if job.State != JobStateQueued {
		t.Fatalf("initial state = %s, want queued", job.State)
	}
	if err := job.Transition(JobStateRunning); err != nil {
		t.Fatalf("Transition(running) error: %v", err)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}
	if job.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if err := job.Transition(JobStateSucceeded); err != nil {
		t.Fatalf("Transition(succeeded) error: %v", err)
	}
	if job.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set")
	}

	err := job.Transition(JobStateRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition from terminal = %v, want ErrInvalidTransition", err)
	}
}

func TestJob_MarkCancelledTwice(t *testing.T) {
	job := NewJob("abc", "https://youtu.be/abc", FormatSelection{}, "/tmp", 3)

	if err := job.MarkCancelled(); err != nil {
		t.Fatalf("MarkCancelled() error: %v", err)
	}
	if job.Failure == nil || job.Failure.Kind != FailureCancelled {
		t.Errorf("Failure = %+v, want cancelled", job.Failure)
	}
	if err := job.MarkCancelled(); err == nil {
		t.Error("second MarkCancelled() should fail")
	}
}

func TestJob_CanRetry(t *testing.T) {
	tests := []struct {
		name  string
		state JobState
		want  bool
	}{
		{"queued", JobStateQueued, false},
		{"running", JobStateRunning, false},
		{"retrying", JobStateRetrying, false},
		{"succeeded", JobStateSucceeded, false},
		{"failed", JobStateFailed, true},
		{"cancelled", JobStateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{State: tt.state}
			if got := job.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_Resubmission(t *testing.T) {
	job := NewJob("abc", "https://youtu.be/abc", FormatSelection{Quality: 720}, "/out", 3)
	job.GroupID = "grp_1"
	job.Title = "Clip"
	job.RequiresAuth = true
	_ = job.Transition(JobStateRunning)
	_ = job.MarkFailed(FailureTransient, "network")

	next := job.Resubmission()
	if next.ID == job.ID {
		t.Error("Resubmission() reused the job id")
	}
	if next.State != JobStateQueued || next.Attempts != 0 || next.Failure != nil {
		t.Errorf("Resubmission() = %+v, want a fresh queued job", next)
	}
	if next.RetryOf != job.ID || next.GroupID != "" {
		t.Errorf("RetryOf = %q GroupID = %q, want %q and no group", next.RetryOf, next.GroupID, job.ID)
	}
	if next.SourceID != "abc" || next.Title != "Clip" || !next.RequiresAuth || next.Format.Quality != 720 || next.MaxAttempts != 3 {
		t.Errorf("Resubmission() did not carry settings: %+v", next)
	}
}

func TestJob_SnapshotIsolated(t *testing.T) {
	job := NewJob("abc", "u", FormatSelection{}, "", 1)
	job.Failure = &Failure{Kind: FailureFatal, Message: "boom"}

	snap := job.Snapshot()
	snap.Failure.Message = "changed"

	if job.Failure.Message != "boom" {
		t.Error("snapshot mutation leaked into job")
	}
}

func TestFormatSelection_Selector(t *testing.T) {
	tests := []struct {
		name string
		sel  FormatSelection
		want string
	}{
		{"best", FormatSelection{}, "bv*+ba/b"},
		{"720p", FormatSelection{Quality: 720}, "bv*[height<=720]+ba/b[height<=720]"},
		{"audio", FormatSelection{Quality: 720, AudioOnly: true}, "ba/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Selector(); got != tt.want {
				t.Errorf("Selector() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Group Tests
// =============================================================================

func TestGroup_Recompute(t *testing.T) {
	g := NewGroup("https://www.youtube.com/playlist?list=PL1", "mix")
	ids := []JobID{"a", "b", "c", "d"}
	for _, id := range ids {
		g.AddJob(id)
	}
	g.SkippedEntries = []SkippedEntry{{SourceID: "x", Reason: "private"}}

	g.Recompute(map[JobID]JobState{
		"a": JobStateSucceeded,
		"b": JobStateRunning,
		"c": JobStateQueued,
		"d": JobStateFailed,
	})

	want := GroupCounters{Total: 4, Queued: 1, Running: 1, Succeeded: 1, Failed: 1, Skipped: 1}
	if g.Counters != want {
		t.Errorf("Counters = %+v, want %+v", g.Counters, want)
	}
	if g.Counters.Terminal() {
		t.Error("group should not be terminal")
	}

	g.Recompute(map[JobID]JobState{
		"a": JobStateSucceeded,
		"b": JobStateCancelled,
		"c": JobStateCancelled,
		"d": JobStateFailed,
	})
	if !g.Counters.Terminal() {
		t.Error("group should be terminal")
	}
	if g.CompletedAt.IsZero() {
		t.Error("CompletedAt should be set")
	}
}

// =============================================================================
// Credential Tests
// =============================================================================

const sampleCookies = "# Netscape HTTP Cookie File\n" +
	"# comment line\n" +
	"\n" +
	".youtube.com\tTRUE\t/\tTRUE\t1999999999\tSID\tabc123\n" +
	"#HttpOnly_.youtube.com\tTRUE\t/\tTRUE\t0\tHSID\txyz\n" +
	".example.com\tTRUE\t/\tFALSE\t1999999999\tother\tv\n"

func TestParseNetscapeCookies(t *testing.T) {
	set, err := ParseNetscapeCookies(sampleCookies)
	if err != nil {
		t.Fatalf("ParseNetscapeCookies() error: %v", err)
	}
	if len(set.Cookies) != 3 {
		t.Fatalf("len(Cookies) = %d, want 3", len(set.Cookies))
	}

	sid := set.Cookies[0]
	if sid.Domain != ".youtube.com" || sid.Name != "SID" || sid.Value != "abc123" {
		t.Errorf("first cookie = %+v", sid)
	}
	if !sid.Secure || !sid.IncludeSubdomains {
		t.Error("first cookie flags not parsed")
	}
	if sid.Expires.Unix() != 1999999999 {
		t.Errorf("Expires = %v", sid.Expires)
	}

	hsid := set.Cookies[1]
	if !hsid.HTTPOnly {
		t.Error("HttpOnly prefix not honoured")
	}
	if !hsid.Expires.IsZero() {
		t.Error("expiry 0 should be a session cookie")
	}
}

func TestParseNetscapeCookies_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"comments only", "# Netscape HTTP Cookie File\n# nothing\n"},
		{"too few fields", ".youtube.com\tTRUE\t/\tTRUE\t0\tSID\n"},
		{"bad expiry", ".youtube.com\tTRUE\t/\tTRUE\tsoon\tSID\tv\n"},
		{"empty name", ".youtube.com\tTRUE\t/\tTRUE\t0\t\tv\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNetscapeCookies(tt.raw)
			if !errors.Is(err, ErrParse) {
				t.Errorf("error = %v, want ErrParse", err)
			}
		})
	}
}

func TestParseNetscapeCookies_SkipsMalformedLines(t *testing.T) {
	raw := ".youtube.com\tTRUE\t/\tTRUE\t0\tSID\tabc\n" +
		".youtube.com\tTRUE\t/\tTRUE\t0\tHSID\txyz\n" +
		".youtube.com\tTRUE\t/\tTRUE\t0\tSSID\n" +
		".google.com\tTRUE\t/\tTRUE\t0\t\tnameless\n"

	set, err := ParseNetscapeCookies(raw)
	if err != nil {
		t.Fatalf("ParseNetscapeCookies() error: %v", err)
	}
	if len(set.Cookies) != 2 {
		t.Fatalf("len(Cookies) = %d, want 2", len(set.Cookies))
	}
	if set.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", set.Skipped)
	}
	if set.Cookies[0].Name != "SID" || set.Cookies[1].Name != "HSID" {
		t.Errorf("cookies = %+v", set.Cookies)
	}
}

func TestCredentialSet_SameCookies(t *testing.T) {
	a, _ := ParseNetscapeCookies(sampleCookies)
	b, _ := ParseNetscapeCookies(sampleCookies)
	b.Source = "browser:edge"
	b.CapturedAt = b.CapturedAt.Add(time.Hour)
	if !a.SameCookies(b) {
		t.Error("sets with equal cookies should match regardless of metadata")
	}

	b.Cookies[0].Value = "rotated"
	if a.SameCookies(b) {
		t.Error("a changed value should not match")
	}
	if a.SameCookies(nil) {
		t.Error("nil should not match a non-empty set")
	}
}

func TestCredentialSet_NetscapeRoundTrip(t *testing.T) {
	set, err := ParseNetscapeCookies(sampleCookies)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	again, err := ParseNetscapeCookies(set.Netscape())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(again.Cookies) != len(set.Cookies) {
		t.Fatalf("cookie count = %d, want %d", len(again.Cookies), len(set.Cookies))
	}
	for i := range set.Cookies {
		a, b := set.Cookies[i], again.Cookies[i]
		if a.Name != b.Name || a.Value != b.Value || a.Domain != b.Domain ||
			a.HTTPOnly != b.HTTPOnly || !a.Expires.Equal(b.Expires) {
			t.Errorf("cookie %d = %+v, want %+v", i, b, a)
		}
	}
	if !strings.HasPrefix(set.Netscape(), netscapeHeader) {
		t.Error("missing Netscape header")
	}
}

func TestCredentialSet_FilterDomains(t *testing.T) {
	set, _ := ParseNetscapeCookies(sampleCookies)
	set.FilterDomains([]string{"youtube.com", ".google.com"})

	if len(set.Cookies) != 2 {
		t.Fatalf("len(Cookies) = %d, want 2", len(set.Cookies))
	}
	for _, c := range set.Cookies {
		if c.Domain != ".youtube.com" {
			t.Errorf("unexpected domain %s", c.Domain)
		}
	}
}

func TestCredentialSet_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		set  *CredentialSet
		want bool
	}{
		{"nil", nil, true},
		{"session cookie only", &CredentialSet{Cookies: []Cookie{{Name: "a"}}}, false},
		{"all expired", &CredentialSet{Cookies: []Cookie{{Name: "a", Expires: past}, {Name: "b", Expires: past}}}, true},
		{"one live", &CredentialSet{Cookies: []Cookie{{Name: "a", Expires: past}, {Name: "b", Expires: future}}}, false},
		{"mixed session and expired", &CredentialSet{Cookies: []Cookie{{Name: "a", Expires: past}, {Name: "b"}}}, false},
		{"set expiry passed", &CredentialSet{Cookies: []Cookie{{Name: "a"}}, ExpiresAt: past}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, ""},
		{"unauthorized", fmt.Errorf("download: %w", ErrUnauthorized), FailureUnauthorized},
		{"not found", ErrNotFound, FailureNotFound},
		{"transient", fmt.Errorf("x: %w", ErrTransient), FailureTransient},
		{"unknown", errors.New("boom"), FailureFatal},
		{"job error kind", NewJobError("j", "run", FailureCancelled, errors.New("stop")), FailureCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIOError_IsIOFailure(t *testing.T) {
	err := fmt.Errorf("load: %w", &IOError{Op: "read", Path: "/x", Err: errors.New("denied")})
	if !errors.Is(err, ErrIOFailure) {
		t.Error("IOError should match ErrIOFailure")
	}
}

// =============================================================================
// Progress Tests
// =============================================================================

func TestDeriveETA(t *testing.T) {
	tests := []struct {
		name         string
		bytes, total int64
		rate         float64
		want         time.Duration
	}{
		{"unknown total", 10, 0, 100, -1},
		{"zero rate", 10, 100, 0, -1},
		{"done", 100, 100, 10, 0},
		{"half", 50, 100, 10, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveETA(tt.bytes, tt.total, tt.rate); got != tt.want {
				t.Errorf("DeriveETA() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvent_Droppable(t *testing.T) {
	progress := Event{Kind: EventProgressUpdated, Progress: &ProgressEvent{Phase: PhaseDownloading}}
	terminal := Event{Kind: EventProgressUpdated, Progress: &ProgressEvent{Phase: PhaseDone, Terminal: JobStateSucceeded}}
	state := Event{Kind: EventJobStateChanged}

	if !progress.Droppable() {
		t.Error("plain progress should be droppable")
	}
	if terminal.Droppable() {
		t.Error("terminal progress must not be droppable")
	}
	if state.Droppable() {
		t.Error("state change must not be droppable")
	}
}
