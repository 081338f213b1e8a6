// Package archive owns the on-disk archive: one embedded SQLite database
// holding messages, events, sessions, their satellites, the full-text
// indexes, and the scanner's checkpoint state. All mutation funnels through
// a single writer connection; readers stay live through WAL.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound reports a lookup of an absent row. Expected per-row outcomes
// (duplicates, referential failures inside a batch) are counters, not
// errors.
var (
	ErrNotFound = errors.New("archive: not found")
)

// Options configures Open.
type Options struct {
	Logger *slog.Logger
}

// Store wraps the archive database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// DefaultDBPath returns <stateDir>/archive/archive.db.
func DefaultDBPath(stateDir string) string {
	return filepath.Join(stateDir, "archive", "archive.db")
}

// Open opens (creating if needed) the archive database at path, enables WAL
// and foreign keys, and applies any missing migrations.
func Open(path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// One connection. Readers ride the same handle, so reads and writes
	// take turns on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for read-only diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current < schemaVersion1 {
		if _, err := tx.ExecContext(ctx, schemaBaseline); err != nil {
			return fmt.Errorf("apply baseline schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, checksum, applied_at) VALUES (?, ?, ?)`,
			schemaVersion1, schemaChecksum1, nowMS()); err != nil {
			return fmt.Errorf("record migration v%d: %w", schemaVersion1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration ledger head.
func (s *Store) SchemaVersion(ctx context.Context) (int, string, error) {
	var version int
	var checksum string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, checksum FROM schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &checksum)
	if err != nil {
		return 0, "", fmt.Errorf("read migration ledger: %w", err)
	}
	return version, checksum, nil
}

// Backup writes a consistent snapshot of the database to destPath.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup target already exists: %s", destPath)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// retryOnBusy retries f when SQLite reports BUSY or LOCKED, with jittered
// exponential backoff on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isUniqueViolation matches the UNIQUE constraint failures that signal an
// expected duplicate.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isFKViolation matches referential failures: parent event absent.
func isFKViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

// nullableMS maps 0 to NULL for optional timestamp columns.
func nullableMS(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func scanNullableMS(v sql.NullInt64) int64 {
	if !v.Valid {
		return 0
	}
	return v.Int64
}
