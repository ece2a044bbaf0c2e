package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	filter_id  TEXT PRIMARY KEY,
	last_saved TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot_issues (
	filter_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	key       TEXT NOT NULL,
	summary   TEXT NOT NULL,
	status    TEXT NOT NULL,
	created   TEXT NOT NULL,
	updated   TEXT NOT NULL,
	PRIMARY KEY (filter_id, key),
	FOREIGN KEY (filter_id) REFERENCES snapshots(filter_id) ON DELETE CASCADE
);
`

// SQLiteBackend keeps all snapshots in a single SQLite database
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and creates if needed) the snapshot database at path
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite prefers a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// SaveSnapshot replaces the stored snapshot of the filter in a single transaction
func (b *SQLiteBackend) SaveSnapshot(snapshot Snapshot) error {
	ctx := context.Background()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_issues WHERE filter_id = ?`, snapshot.FilterID); err != nil {
		return fmt.Errorf("failed to clear snapshot issues: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO snapshots (filter_id, last_saved) VALUES (?, ?)
	ON CONFLICT(filter_id) DO UPDATE SET last_saved = excluded.last_saved
	`, snapshot.FilterID, formatTime(snapshot.LastSaved)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO snapshot_issues (filter_id, position, key, summary, status, created, updated)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare issue insert: %w", err)
	}
	defer stmt.Close()

	for i, issue := range snapshot.Issues {
		if _, err := stmt.ExecContext(ctx, snapshot.FilterID, i, issue.Key, issue.Summary, issue.Status,
			formatTime(issue.Created), formatTime(issue.Updated)); err != nil {
			return fmt.Errorf("failed to save issue %s: %w", issue.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot loads the snapshot of a filter, nil when none was stored
func (b *SQLiteBackend) LoadSnapshot(filterID string) (*Snapshot, error) {
	var lastSaved string
	err := b.db.QueryRow(`SELECT last_saved FROM snapshots WHERE filter_id = ?`, filterID).Scan(&lastSaved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	snapshot := &Snapshot{FilterID: filterID}
	if snapshot.LastSaved, err = parseTime(lastSaved); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot time: %w", err)
	}

	rows, err := b.db.Query(`
	SELECT key, summary, status, created, updated
	FROM snapshot_issues
	WHERE filter_id = ?
	ORDER BY position
	`, filterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot issues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var issue Issue
		var created, updated string
		if err := rows.Scan(&issue.Key, &issue.Summary, &issue.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot issue: %w", err)
		}
		if issue.Created, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("failed to parse created time of %s: %w", issue.Key, err)
		}
		if issue.Updated, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("failed to parse updated time of %s: %w", issue.Key, err)
		}
		snapshot.Issues = append(snapshot.Issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot issues: %w", err)
	}

	return snapshot, nil
}

// ListSnapshots returns summaries of all stored snapshots, ordered by filter ID
func (b *SQLiteBackend) ListSnapshots() ([]SnapshotListItem, error) {
	rows, err := b.db.Query(`
	SELECT s.filter_id, s.last_saved, COUNT(i.key)
	FROM snapshots s
	LEFT JOIN snapshot_issues i ON i.filter_id = s.filter_id
	GROUP BY s.filter_id, s.last_saved
	ORDER BY s.filter_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var items []SnapshotListItem
	for rows.Next() {
		var item SnapshotListItem
		var lastSaved string
		if err := rows.Scan(&item.FilterID, &lastSaved, &item.IssueCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		item.LastSaved, _ = parseTime(lastSaved)
		items = append(items, item)
	}

	return items, rows.Err()
}

// DeleteSnapshot removes the snapshot of a filter
func (b *SQLiteBackend) DeleteSnapshot(filterID string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM snapshot_issues WHERE filter_id = ?`, filterID); err != nil {
		return fmt.Errorf("failed to delete snapshot issues: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM snapshots WHERE filter_id = ?`, filterID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return tx.Commit()
}

// SnapshotExists checks if a snapshot exists for the filter
func (b *SQLiteBackend) SnapshotExists(filterID string) bool {
	var one int
	err := b.db.QueryRow(`SELECT 1 FROM snapshots WHERE filter_id = ?`, filterID).Scan(&one)
	return err == nil
}

// Close closes the database
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
