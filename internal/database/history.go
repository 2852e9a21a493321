package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryStore receives completed-download records. The core only writes;
// listing exists for the API surface.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a history store backed by db.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// HistoryEntry is one completed download.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Record inserts a completed download.
func (s *HistoryStore) Record(ctx context.Context, title, source, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO download_history (title, source, url) VALUES ($1, $2, $3)`,
		title, source, url)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, source, url, created_at
		FROM download_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Source, &e.URL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
