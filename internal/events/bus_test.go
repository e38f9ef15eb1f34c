package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func progressEvent(job domain.JobID, bytes int64) domain.Event {
	return domain.Event{
		Kind:     domain.EventProgressUpdated,
		JobID:    job,
		Progress: &domain.ProgressEvent{JobID: job, Bytes: bytes, TotalBytes: 1000},
	}
}

func stateEvent(job domain.JobID, state domain.JobState) domain.Event {
	return domain.Event{
		Kind:    domain.EventJobStateChanged,
		JobID:   job,
		Message: string(state),
	}
}

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func TestBus_PublishAssignsIDAndTimestamp(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 10})

	b.Publish(stateEvent("job_1", domain.JobStateQueued))

	events := b.GetRecent(10)
	if len(events) != 1 {
		t.Fatalf("GetRecent() len = %d, want 1", len(events))
	}
	if events[0].ID == "" {
		t.Error("event ID not assigned")
	}
	if events[0].Timestamp.IsZero() {
		t.Error("event timestamp not assigned")
	}
	if events[0].Severity != domain.EventSeverityInfo {
		t.Errorf("Severity = %q, want info", events[0].Severity)
	}
}

func TestBus_RingBuffer(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 5})

	for i := 0; i < 10; i++ {
		b.Publish(domain.Event{Kind: domain.EventJobStateChanged, Message: fmt.Sprintf("message %d", i)})
	}

	events := b.GetRecent(10)
	if len(events) != 5 {
		t.Fatalf("GetRecent() len = %d, want 5", len(events))
	}
	if events[0].Message != "message 9" {
		t.Errorf("events[0].Message = %q, want message 9", events[0].Message)
	}
	if events[4].Message != "message 5" {
		t.Errorf("events[4].Message = %q, want message 5", events[4].Message)
	}
}

func TestBus_ProgressNotRecorded(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 10})

	b.Publish(progressEvent("job_1", 10))
	if got := len(b.GetRecent(10)); got != 0 {
		t.Errorf("GetRecent() len = %d, want 0 for progress samples", got)
	}
}

func TestBus_QueryFilter(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 100})

	b.Publish(domain.Event{Kind: domain.EventJobStateChanged, JobID: "job_a"})
	b.Publish(domain.Event{Kind: domain.EventJobStateChanged, JobID: "job_b", GroupID: "grp_1"})
	b.Publish(domain.Event{Kind: domain.EventAuthStateChanged, Severity: domain.EventSeverityWarning})

	kind := domain.EventJobStateChanged
	warning := domain.EventSeverityWarning

	tests := []struct {
		name   string
		filter domain.EventFilter
		want   int
	}{
		{"no filter", domain.EventFilter{}, 3},
		{"by kind", domain.EventFilter{Kind: &kind}, 2},
		{"by severity", domain.EventFilter{Severity: &warning}, 1},
		{"by job", domain.EventFilter{JobID: "job_a"}, 1},
		{"by group", domain.EventFilter{GroupID: "grp_1"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.Query(context.Background(), domain.EventQuery{Filter: tt.filter})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if res.Total != tt.want {
				t.Errorf("Total = %d, want %d", res.Total, tt.want)
			}
		})
	}
}

func TestBus_QueryPagination(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 100})
	for i := 0; i < 25; i++ {
		b.Publish(domain.Event{Kind: domain.EventJobStateChanged})
	}

	res, err := b.Query(context.Background(), domain.EventQuery{Limit: 10, Offset: 20})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res.Events) != 5 || res.HasMore {
		t.Errorf("page = %d events, HasMore=%v; want 5, false", len(res.Events), res.HasMore)
	}

	res, _ = b.Query(context.Background(), domain.EventQuery{Offset: 100})
	if len(res.Events) != 0 {
		t.Errorf("offset past end returned %d events", len(res.Events))
	}
}

func TestBus_SubscribeOrder(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 10})
	_, ch := b.Subscribe()

	for i := 0; i < 20; i++ {
		b.Publish(domain.Event{Kind: domain.EventJobStateChanged, Message: fmt.Sprint(i)})
	}
	for i := 0; i < 20; i++ {
		e := receive(t, ch)
		if e.Message != fmt.Sprint(i) {
			t.Fatalf("event %d Message = %q, want %q", i, e.Message, fmt.Sprint(i))
		}
	}
}

func TestBus_SlowSubscriberKeepsTerminalEvents(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 10, SubscriberBuffer: 4})
	_, ch := b.Subscribe()

	// Nobody reads while we flood progress for one job.
	for i := 0; i < 500; i++ {
		b.Publish(progressEvent("job_1", int64(i)))
	}
	b.Publish(stateEvent("job_1", domain.JobStateSucceeded))

	var last domain.Event
	sawProgress := 0
	for {
		e := receive(t, ch)
		if e.Kind == domain.EventJobStateChanged {
			last = e
			break
		}
		sawProgress++
	}

	if last.Message != string(domain.JobStateSucceeded) {
		t.Errorf("terminal event Message = %q, want succeeded", last.Message)
	}
	if sawProgress > 500 {
		t.Errorf("received %d progress samples, want at most 500", sawProgress)
	}
	if b.Stats().Coalesced == 0 {
		t.Error("expected progress samples to be coalesced")
	}
}

func TestBus_CoalescingKeepsLatestSample(t *testing.T) {
	sub := newSubscriber()
	for i := 0; i < 10; i++ {
		sub.push(progressEvent("job_1", int64(i)), 2)
	}
	if got := sub.pending(); got != 2 {
		t.Fatalf("pending() = %d, want 2", got)
	}
	if got := sub.queue[1].Progress.Bytes; got != 9 {
		t.Errorf("latest queued sample Bytes = %d, want 9", got)
	}

	// Non-droppable events always append.
	sub.push(stateEvent("job_1", domain.JobStateFailed), 2)
	if got := sub.pending(); got != 3 {
		t.Errorf("pending() = %d, want 3", got)
	}
}

func TestBus_CoalescedSampleStaysBehindStateEvent(t *testing.T) {
	sub := newSubscriber()
	sub.push(progressEvent("job_1", 1), 2)
	sub.push(progressEvent("job_1", 2), 2)
	sub.push(stateEvent("job_1", domain.JobStateRetrying), 2)

	if !sub.push(progressEvent("job_1", 3), 2) {
		t.Fatal("push() = false, want the queued sample displaced")
	}

	want := []string{"progress:1", "state:retrying", "progress:3"}
	var got []string
	for _, e := range sub.queue {
		if e.Progress != nil {
			got = append(got, fmt.Sprintf("progress:%d", e.Progress.Bytes))
		} else {
			got = append(got, "state:"+e.Message)
		}
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("queue = %v, want %v", got, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 10})
	id, ch := b.Subscribe()

	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", b.SubscriberCount())
	}
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", b.SubscriberCount())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := newTestBus(t, Config{RingBufferSize: 1000})
	_, ch := b.Subscribe()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Publish(domain.Event{Kind: domain.EventJobStateChanged})
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 400; i++ {
		receive(t, ch)
	}
	if got := b.Stats().Published; got != 400 {
		t.Errorf("Published = %d, want 400", got)
	}
}

func TestBus_SQLiteHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBus(t, Config{RingBufferSize: 10, SQLitePath: path, RetentionDays: 30})

	b.Publish(domain.Event{Kind: domain.EventJobStateChanged, JobID: "job_a", Message: "queued"})
	b.Publish(domain.Event{Kind: domain.EventAuthStateChanged, Message: "expired"})
	b.Publish(progressEvent("job_a", 5))
	b.Publish(domain.Event{
		Kind:      domain.EventJobStateChanged,
		JobID:     "job_old",
		Timestamp: time.Now().AddDate(0, 0, -60),
	})
	b.Flush()

	res, err := b.QueryHistorical(context.Background(), domain.EventQuery{})
	if err != nil {
		t.Fatalf("QueryHistorical() error = %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("Total = %d, want 3 (progress not persisted)", res.Total)
	}
	if res.Events[0].Message != "expired" {
		t.Errorf("newest event Message = %q, want expired", res.Events[0].Message)
	}

	res, err = b.QueryHistorical(context.Background(), domain.EventQuery{Filter: domain.EventFilter{JobID: "job_a"}})
	if err != nil {
		t.Fatalf("QueryHistorical() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("Total for job_a = %d, want 1", res.Total)
	}

	if err := b.CleanupOldEvents(context.Background()); err != nil {
		t.Fatalf("CleanupOldEvents() error = %v", err)
	}
	res, _ = b.QueryHistorical(context.Background(), domain.EventQuery{})
	if res.Total != 2 {
		t.Errorf("Total after cleanup = %d, want 2", res.Total)
	}
}

func TestBus_QueryHistoricalWithoutDB(t *testing.T) {
	b := newTestBus(t, Config{})
	res, err := b.QueryHistorical(context.Background(), domain.EventQuery{})
	if err != nil {
		t.Fatalf("QueryHistorical() error = %v", err)
	}
	if len(res.Events) != 0 {
		t.Errorf("len(Events) = %d, want 0", len(res.Events))
	}
}
