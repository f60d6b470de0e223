// Package history persists the recent-documents list in SQLite so the viewer
// can reopen documents across restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recently opened document.
type Entry struct {
	DocID           string    `json:"docId"`
	Name            string    `json:"name"`
	Pages           int       `json:"pages"`
	AnnotationCount int       `json:"annotationCount"`
	OpenedAt        time.Time `json:"openedAt"`
}

// SQLiteHistory stores recent-document entries in SQLite.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not exist.
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteHistory{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS recent_documents (
		doc_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		pages INTEGER NOT NULL,
		annotation_count INTEGER NOT NULL DEFAULT 0,
		opened_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_recent_opened_at ON recent_documents(opened_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Record upserts an entry, refreshing its opened-at timestamp. Reopening a
// document moves it to the top of the list.
func (h *SQLiteHistory) Record(ctx context.Context, e Entry) error {
	if e.OpenedAt.IsZero() {
		e.OpenedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO recent_documents (doc_id, name, pages, annotation_count, opened_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		   name = excluded.name,
		   pages = excluded.pages,
		   opened_at = excluded.opened_at`,
		e.DocID, e.Name, e.Pages, e.AnnotationCount, e.OpenedAt,
	)
	return err
}

// SetAnnotationCount updates the stored annotation count for a document.
func (h *SQLiteHistory) SetAnnotationCount(ctx context.Context, docID string, count int) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE recent_documents SET annotation_count = ? WHERE doc_id = ?`,
		count, docID,
	)
	return err
}

// List returns up to limit entries, most recently opened first.
func (h *SQLiteHistory) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT doc_id, name, pages, annotation_count, opened_at
		 FROM recent_documents ORDER BY opened_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.DocID, &e.Name, &e.Pages, &e.AnnotationCount, &e.OpenedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry for a document id.
func (h *SQLiteHistory) Get(ctx context.Context, docID string) (*Entry, error) {
	var e Entry
	err := h.db.QueryRowContext(ctx,
		`SELECT doc_id, name, pages, annotation_count, opened_at
		 FROM recent_documents WHERE doc_id = ?`, docID,
	).Scan(&e.DocID, &e.Name, &e.Pages, &e.AnnotationCount, &e.OpenedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", docID)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Close closes the database connection.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}
