package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const historySchema = `
	CREATE TABLE IF NOT EXISTS completed (
		source_id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		output_path TEXT NOT NULL DEFAULT '',
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_completed_at ON completed(completed_at);
`

// SQLiteHistoryRepository persists completed downloads for cross-run dedupe.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository opens (or creates) the history database at path.
func NewSQLiteHistoryRepository(path string) (*SQLiteHistoryRepository, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &SQLiteHistoryRepository{db: db}, nil
}

// Record stores a completed download, replacing any earlier entry for the source.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, entry HistoryEntry) error {
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO completed (source_id, url, title, output_path, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.SourceID, entry.URL, entry.Title, entry.OutputPath, entry.CompletedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// Contains reports whether the source completed before.
func (r *SQLiteHistoryRepository) Contains(ctx context.Context, sourceID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM completed WHERE source_id = ?`, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query history: %w", err)
	}
	return n > 0, nil
}

// Recent returns the newest entries first.
func (r *SQLiteHistoryRepository) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id, url, title, output_path, completed_at
		FROM completed ORDER BY completed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e  HistoryEntry
			ts int64
		)
		if err := rows.Scan(&e.SourceID, &e.URL, &e.Title, &e.OutputPath, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.CompletedAt = time.Unix(0, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (r *SQLiteHistoryRepository) Close() error {
	return r.db.Close()
}
