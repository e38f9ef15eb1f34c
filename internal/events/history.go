package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/streamfetch/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		job_id TEXT,
		group_id TEXT,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_job ON events(job_id);
	CREATE INDEX IF NOT EXISTS idx_events_group ON events(group_id);
`

func openHistory(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return db, nil
}

func (b *Bus) persist(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("failed to encode event", "event_id", event.ID, "error", err)
		return
	}

	_, err = b.db.Exec(`
		INSERT OR REPLACE INTO events (id, ts, kind, severity, message, job_id, group_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(event.ID), event.Timestamp.UnixNano(), string(event.Kind), string(event.Severity),
		event.Message, string(event.JobID), string(event.GroupID), string(payload))
	if err != nil {
		b.logger.Warn("failed to persist event", "event_id", event.ID, "error", err)
	}
}

// QueryHistorical queries persisted events, newest first. Without a
// database it returns an empty result.
func (b *Bus) QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	if b.db == nil {
		return &domain.EventQueryResult{Events: []domain.Event{}}, nil
	}
	query = normalizeQuery(query)

	var conditions []string
	var args []interface{}

	if query.Filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*query.Filter.Kind))
	}
	if query.Filter.Severity != nil {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(*query.Filter.Severity))
	}
	if query.Filter.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, string(query.Filter.JobID))
	}
	if query.Filter.GroupID != "" {
		conditions = append(conditions, "group_id = ?")
		args = append(args, string(query.Filter.GroupID))
	}
	if query.Filter.StartTime != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, query.Filter.StartTime.UnixNano())
	}
	if query.Filter.EndTime != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, query.Filter.EndTime.UnixNano())
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rows, err := b.db.QueryContext(ctx,
		"SELECT payload FROM events "+whereClause+" ORDER BY ts DESC LIMIT ? OFFSET ?",
		append(args, query.Limit, query.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, query.Limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var event domain.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			b.logger.Warn("skipping undecodable event", "error", err)
			continue
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &domain.EventQueryResult{
		Events:  events,
		Total:   total,
		HasMore: query.Offset+len(events) < total,
	}, nil
}

// CleanupOldEvents removes persisted events older than the retention period.
func (b *Bus) CleanupOldEvents(ctx context.Context) error {
	if b.db == nil || b.cfg.RetentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -b.cfg.RetentionDays)
	result, err := b.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return fmt.Errorf("delete old events: %w", err)
	}

	if deleted, _ := result.RowsAffected(); deleted > 0 {
		b.logger.Info("cleaned up old events", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}

// RunRetention calls CleanupOldEvents every interval until ctx is done.
func (b *Bus) RunRetention(ctx context.Context, interval time.Duration) {
	if b.db == nil || b.cfg.RetentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := b.CleanupOldEvents(ctx); err != nil {
			b.logger.Warn("event retention failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush waits for in-flight persistence writes.
func (b *Bus) Flush() {
	b.persistWG.Wait()
}
