package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists review history to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite history store.
// The path should be a file path (e.g. "./history.db") or ":memory:" for
// testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS review_history (
			repo TEXT NOT NULL,
			pull_request INTEGER NOT NULL,
			last_run_id TEXT NOT NULL,
			seen_files TEXT NOT NULL,
			findings INTEGER NOT NULL,
			cost REAL NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (repo, pull_request)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_review_history_repo
		ON review_history(repo)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	seen, err := json.Marshal(record.SeenFiles)
	if err != nil {
		return fmt.Errorf("marshal seen files: %w", err)
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO review_history (repo, pull_request, last_run_id, seen_files, findings, cost, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, pull_request) DO UPDATE SET
			last_run_id = excluded.last_run_id,
			seen_files = excluded.seen_files,
			findings = excluded.findings,
			cost = excluded.cost,
			updated_at = excluded.updated_at
	`, record.Repo, record.PullRequest, record.LastRunID, string(seen),
		record.Findings, record.Cost, updatedAt.Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(repo string, pullRequest int) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Record{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT repo, pull_request, last_run_id, seen_files, findings, cost, updated_at
		FROM review_history
		WHERE repo = ? AND pull_request = ?
	`, repo, pullRequest)

	record, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load history record: %w", err)
	}
	return record, nil
}

// List implements Store.
func (s *SQLiteStore) List(repo string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT repo, pull_request, last_run_id, seen_files, findings, cost, updated_at
		FROM review_history
		WHERE repo = ?
		ORDER BY pull_request
	`, repo)
	if err != nil {
		return nil, fmt.Errorf("list history records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history records: %w", err)
	}

	return records, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(repo string, pullRequest int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		DELETE FROM review_history
		WHERE repo = ? AND pull_request = ?
	`, repo, pullRequest)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// scanRecord reads one row regardless of whether it came from QueryRow or
// Query.
func scanRecord(scan func(...any) error) (Record, error) {
	var record Record
	var seen, updatedAt string

	if err := scan(&record.Repo, &record.PullRequest, &record.LastRunID,
		&seen, &record.Findings, &record.Cost, &updatedAt); err != nil {
		return Record{}, err
	}

	if err := json.Unmarshal([]byte(seen), &record.SeenFiles); err != nil {
		return Record{}, fmt.Errorf("unmarshal seen files: %w", err)
	}
	record.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return record, nil
}
