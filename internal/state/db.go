// Package state provides the SQLite cross-session index. The index is
// advisory: session directories on disk are the recovery source of truth,
// the index only makes listing and lookup cheap.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection holding the session index.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the index location under the user data directory.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "flotilla", "flotilla.db")
}

// Open opens the index database at path, creating parent directories and
// enabling WAL mode for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenDefault opens the index at its default location.
func OpenDefault() (*DB, error) {
	return Open(DefaultDBPath())
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Sessions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	request TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'planning',
	session_dir TEXT NOT NULL,
	subtasks_total INTEGER NOT NULL DEFAULT 0,
	subtasks_completed INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
`

// SessionRow is one session's index entry.
type SessionRow struct {
	// ID is the session ID.
	ID string
	// Request is the original high-level request.
	Request string
	// State is the session's last known state.
	State string
	// SessionDir is where the session's journal lives on disk.
	SessionDir string
	// SubtasksTotal is the plan's subtask count.
	SubtasksTotal int
	// SubtasksCompleted is the completed-and-reviewed count.
	SubtasksCompleted int
	// StartedAt is when the session began.
	StartedAt time.Time
	// UpdatedAt is the last index update.
	UpdatedAt time.Time
}

// UpsertSession inserts or replaces the session's index entry.
func (db *DB) UpsertSession(row SessionRow) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if row.StartedAt.IsZero() {
		row.StartedAt = time.Now()
	}
	row.UpdatedAt = time.Now()

	_, err := db.conn.Exec(`
		INSERT INTO sessions (id, request, state, session_dir, subtasks_total, subtasks_completed, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			subtasks_total = excluded.subtasks_total,
			subtasks_completed = excluded.subtasks_completed,
			updated_at = excluded.updated_at
	`, row.ID, row.Request, row.State, row.SessionDir,
		row.SubtasksTotal, row.SubtasksCompleted, row.StartedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", row.ID, err)
	}
	return nil
}

// GetSession returns one session's entry, or sql.ErrNoRows.
func (db *DB) GetSession(id string) (*SessionRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, request, state, session_dir, subtasks_total, subtasks_completed, started_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// ListSessions returns entries newest first, optionally filtered by state.
func (db *DB) ListSessions(state string, limit int) ([]*SessionRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, request, state, session_dir, subtasks_total, subtasks_completed, started_at, updated_at
		FROM sessions
	`
	args := []any{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, state)
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session's index entry.
func (db *DB) DeleteSession(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*SessionRow, error) {
	var s SessionRow
	err := r.Scan(&s.ID, &s.Request, &s.State, &s.SessionDir,
		&s.SubtasksTotal, &s.SubtasksCompleted, &s.StartedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
