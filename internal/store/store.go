// Package store owns the SQLite connection and schema lifecycle that every
// other kaban service builds on (§4.1, component C1). Grounded on the
// teacher's internal/sqlite backend for sql.Open("sqlite", ...) and the
// explicit begin/defer-rollback/commit transaction idiom; the teacher
// itself applies one embedded schema.sql with no migration tracking, so
// the applied-once __migrations table and retry wrapper here have no
// teacher precedent — new code, needed because kaban's schema is expected
// to evolve rather than ship once.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kaban-dev/kaban/pkg/kabanerr"
)

// Store wraps the task database: the open connection plus the retry policy
// every mutating call goes through.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory if needed, opens the SQLite file at
// path (or an in-memory database for path == ":memory:"), sets the
// WAL/foreign-key pragmas, and applies any migrations not yet recorded in
// __migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite only ever lets one writer through; modernc's driver otherwise
	// hands out a new connection per statement and that serialization is
	// lost.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("store: %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS __migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("store: create __migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("store: migration %s: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) migrationApplied(version string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM __migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: check migration %s: %w", version, err)
	}
	return count > 0, nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements() {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO __migrations(version, applied_at) VALUES (?, ?)`,
		m.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}

// DB exposes the underlying connection for services that need to build
// their own prepared queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

const (
	maxRetries  = 3
	retryBase   = 25 * time.Millisecond
)

// WithTx runs fn inside a transaction, retrying the whole transaction with
// bounded exponential backoff when SQLite reports the database busy or
// locked — the single-writer cost of WAL mode under concurrent agents
// (§4.1). fn must not call Commit or Rollback itself.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return asCancelled(ctx.Err())
			case <-time.After(retryBase * (1 << (attempt - 1))):
			}
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if isCancellation(err) {
			return asCancelled(err)
		}
		lastErr = err
		if !isBusy(err) {
			return err
		}
	}
	return fmt.Errorf("store: database busy after %d attempts: %w", maxRetries, lastErr)
}

// isCancellation reports whether err is, or wraps, a context cancellation
// or deadline error, however it surfaced (directly, or via sql.Tx wrapping
// it mid-statement).
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// asCancelled translates a context cancellation/deadline error into a typed
// kabanerr.Cancelled so callers never see a bare context.Canceled (§5 "On
// cancel mid-transaction the current statement is rolled back and the
// error CANCELLED is surfaced").
func asCancelled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return kabanerr.Wrap(kabanerr.Cancelled, err, "operation deadline exceeded")
	}
	return kabanerr.Wrap(kabanerr.Cancelled, err, "operation cancelled")
}

func (s *Store) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sqliteCoder matches modernc.org/sqlite's *sqlite.Error without importing
// its internal error-code package; the pack retrieved for this spec does
// not exercise that API directly (see DESIGN.md), so detection falls back
// to matching the driver's own error text for SQLITE_BUSY / SQLITE_LOCKED.
type sqliteCoder interface {
	error
	Code() int
}

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder sqliteCoder
	if errors.As(err, &coder) {
		switch coder.Code() {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "busy")
}
