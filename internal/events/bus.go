// Package events fans domain events out to presentation subscribers.
//
// Publish never blocks on a slow subscriber. Each subscriber owns an
// unbounded queue drained by its own goroutine; once the queue grows past
// the configured soft limit, non-terminal progress samples for a job
// replace the previous queued sample for that job instead of growing the
// queue. Every other event is always delivered, in publish order.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/streamfetch/internal/domain"
)

// Config configures the bus.
type Config struct {
	// RingBufferSize is the number of events kept in memory.
	RingBufferSize int

	// SubscriberBuffer is the queue length after which progress samples
	// are coalesced per job.
	SubscriberBuffer int

	// SQLitePath enables persistence of non-progress events when set.
	SQLitePath string

	// RetentionDays is how long persisted events are kept (0 = forever).
	RetentionDays int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RingBufferSize:   1000,
		SubscriberBuffer: 256,
		RetentionDays:    30,
	}
}

// Bus records events in a ring buffer and streams them to subscribers.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	events []domain.Event
	head   int
	count  int
	seq    uint64

	db        *sql.DB
	persistWG sync.WaitGroup

	subMu       sync.RWMutex
	subscribers map[uint64]*subscriber
	subSeq      uint64

	published atomic.Uint64
	coalesced atomic.Uint64
}

// New creates a bus, opening the SQLite history when configured.
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 1000
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 256
	}

	b := &Bus{
		cfg:         cfg,
		logger:      logger.With("component", "events"),
		events:      make([]domain.Event, cfg.RingBufferSize),
		subscribers: make(map[uint64]*subscriber),
	}

	if cfg.SQLitePath != "" {
		db, err := openHistory(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open event history: %w", err)
		}
		b.db = db
		b.logger.Info("event persistence enabled", "path", cfg.SQLitePath)
	}

	return b, nil
}

// Close stops all subscribers and closes the history database.
func (b *Bus) Close() error {
	b.subMu.Lock()
	for id, sub := range b.subscribers {
		sub.stop()
		delete(b.subscribers, id)
	}
	b.subMu.Unlock()

	b.persistWG.Wait()
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Publish records an event and hands it to every subscriber.
func (b *Bus) Publish(event domain.Event) {
	b.mu.Lock()
	b.seq++
	if event.ID == "" {
		event.ID = domain.EventID(fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), b.seq))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = domain.EventSeverityInfo
	}
	if !event.Droppable() {
		b.events[b.head] = event
		b.head = (b.head + 1) % b.cfg.RingBufferSize
		if b.count < b.cfg.RingBufferSize {
			b.count++
		}
	}

	// Subscriber queues are filled under the bus lock so every subscriber
	// observes the same order.
	b.subMu.RLock()
	for _, sub := range b.subscribers {
		if sub.push(event, b.cfg.SubscriberBuffer) {
			b.coalesced.Add(1)
		}
	}
	b.subMu.RUnlock()
	b.mu.Unlock()

	b.published.Add(1)

	if b.db != nil && !event.Droppable() {
		b.persistWG.Add(1)
		go func() {
			defer b.persistWG.Done()
			b.persist(event)
		}()
	}

	level := slog.LevelDebug
	switch event.Severity {
	case domain.EventSeverityWarning:
		level = slog.LevelWarn
	case domain.EventSeverityError:
		level = slog.LevelError
	}
	if event.Kind != domain.EventProgressUpdated || level > slog.LevelDebug {
		b.logger.Log(context.Background(), level, "event published",
			"event_id", event.ID,
			"kind", event.Kind,
			"job_id", event.JobID,
			"group_id", event.GroupID,
			"message", event.Message,
		)
	}
}

// Subscribe registers a subscriber. The returned channel is closed by
// Unsubscribe or Close.
func (b *Bus) Subscribe() (uint64, <-chan domain.Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.subSeq++
	id := b.subSeq
	sub := newSubscriber()
	b.subscribers[id] = sub
	go sub.pump()

	b.logger.Info("subscriber added", "subscriber_id", id, "total_subscribers", len(b.subscribers))
	return id, sub.out
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		sub.stop()
		delete(b.subscribers, id)
		b.logger.Info("subscriber removed", "subscriber_id", id, "total_subscribers", len(b.subscribers))
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subscribers)
}

// GetRecent returns the most recent n recorded events, newest first.
// Non-terminal progress samples are never recorded.
func (b *Bus) GetRecent(n int) []domain.Event {
	if n <= 0 {
		n = 50
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	result := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.cfg.RingBufferSize) % b.cfg.RingBufferSize
		result = append(result, b.events[idx])
	}
	return result
}

// Query returns recorded events matching the filter, newest first.
func (b *Bus) Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	query = normalizeQuery(query)

	b.mu.RLock()
	matched := make([]domain.Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head - 1 - i + b.cfg.RingBufferSize) % b.cfg.RingBufferSize
		if matchesFilter(b.events[idx], query.Filter) {
			matched = append(matched, b.events[idx])
		}
	}
	b.mu.RUnlock()

	total := len(matched)
	if query.Offset >= total {
		return &domain.EventQueryResult{Events: []domain.Event{}, Total: total}, nil
	}
	end := query.Offset + query.Limit
	if end > total {
		end = total
	}

	return &domain.EventQueryResult{
		Events:  matched[query.Offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// Stats describes the bus.
type Stats struct {
	BufferSize    int    `json:"buffer_size"`
	BufferUsed    int    `json:"buffer_used"`
	Subscribers   int    `json:"subscribers"`
	SQLiteEnabled bool   `json:"sqlite_enabled"`
	Published     uint64 `json:"published"`
	Coalesced     uint64 `json:"coalesced"`
}

// Stats returns a snapshot of bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	used := b.count
	b.mu.RUnlock()

	return Stats{
		BufferSize:    b.cfg.RingBufferSize,
		BufferUsed:    used,
		Subscribers:   b.SubscriberCount(),
		SQLiteEnabled: b.db != nil,
		Published:     b.published.Load(),
		Coalesced:     b.coalesced.Load(),
	}
}

func normalizeQuery(q domain.EventQuery) domain.EventQuery {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func matchesFilter(event domain.Event, filter domain.EventFilter) bool {
	if filter.Kind != nil && event.Kind != *filter.Kind {
		return false
	}
	if filter.Severity != nil && event.Severity != *filter.Severity {
		return false
	}
	if filter.JobID != "" && event.JobID != filter.JobID {
		return false
	}
	if filter.GroupID != "" && event.GroupID != filter.GroupID {
		return false
	}
	if filter.StartTime != nil && event.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && event.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}
