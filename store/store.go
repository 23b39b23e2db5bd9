// Package store implements the SessionStore collaborator: the
// relational catalog a Session Coordinator's Directory consults to
// validate a session-id before starting a Coordinator for it, and
// that the Coordinator touches on activity so the catalog's
// last-activity timestamp stays live for out-of-process housekeeping
// (e.g. an external reaper that expires abandoned session rows).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/scbe/errs"
)

// SessionStore validates a session-id against the backing catalog and
// records activity against it. It is the collaborator a Directory's
// Starter closes over.
type SessionStore interface {
	// Validate reports whether sessionID names a session that has not
	// ended, along with its absolute expiry. ok is false for an unknown
	// or already-ended session-id.
	Validate(ctx context.Context, sessionID string) (expiresAt time.Time, ok bool, err error)

	// TouchActivity records that sessionID is still live. Called
	// fire-and-forget from the Coordinator's hot path; failures are
	// logged by the caller, never surfaced to a client.
	TouchActivity(sessionID string) error
}

const (
	sqliteJournalMode   = "WAL"
	sqliteBusyTimeoutMS = 5000
)

// SQLiteStore is the SessionStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path, applies
// pragmas for concurrent access, and runs pending migrations.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrapf(err, "create database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrapf(err, "open database at %s", path)
	}

	if _, err := db.Exec("PRAGMA journal_mode = " + sqliteJournalMode); err != nil {
		db.Close()
		return nil, errs.Wrapf(err, "enable %s journal mode", sqliteJournalMode)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errs.Wrap(err, "enable foreign keys")
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMS)); err != nil {
		db.Close()
		return nil, errs.Wrap(err, "set busy timeout")
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, errs.Wrap(err, "run migrations")
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, skipping Open's file/pragma
// setup — used by tests that inject a sqlmock-backed DB.
func NewWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row. Called by whatever process
// boundary mints session-ids (out of SCBE's core scope; exercised here
// so the Directory's Validate path has real rows to resolve against).
func (s *SQLiteStore) CreateSession(ctx context.Context, id, name string, createdAt, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, created_at, expires_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, name, createdAt.UTC(), expiresAt.UTC(), createdAt.UTC())
	if err != nil {
		return errs.Wrapf(err, "insert session %s", id)
	}
	return nil
}

// Validate implements SessionStore.
func (s *SQLiteStore) Validate(ctx context.Context, sessionID string) (time.Time, bool, error) {
	var expiresAt time.Time
	var endedAt sql.NullTime

	row := s.db.QueryRowContext(ctx, `
		SELECT expires_at, ended_at FROM sessions WHERE id = ?
	`, sessionID)
	if err := row.Scan(&expiresAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errs.Wrapf(err, "query session %s", sessionID)
	}

	if endedAt.Valid {
		return expiresAt, false, nil
	}
	if !time.Now().Before(expiresAt) {
		return expiresAt, false, nil
	}
	return expiresAt, true, nil
}

// TouchActivity implements SessionStore.
func (s *SQLiteStore) TouchActivity(sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET last_activity_at = ? WHERE id = ?
	`, time.Now().UTC(), sessionID)
	if err != nil {
		return errs.Wrapf(err, "touch activity for session %s", sessionID)
	}
	return nil
}

// MarkEnded records a session's teardown reason, mirroring the
// Coordinator's own EndedReason so the catalog and the in-memory
// Directory agree once the Coordinator has exited.
func (s *SQLiteStore) MarkEnded(ctx context.Context, sessionID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, ended_reason = ? WHERE id = ?
	`, time.Now().UTC(), reason, sessionID)
	if err != nil {
		return errs.Wrapf(err, "mark session %s ended", sessionID)
	}
	return nil
}
