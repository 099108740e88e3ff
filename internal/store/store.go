// Package store persists tasks, runs, workers, the planning queue, and
// execution plans in a single SQLite database, and backs the event log
// used by package eventbus.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"

	cerrors "github.com/harrison/conductor/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// identifierPattern guards dynamic ALTER TABLE column names against
// injection; only simple identifiers of letters, digits and underscores
// are ever interpolated.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store wraps a pooled SQLite connection and applies the embedded schema
// at construction.
type Store struct {
	db     *sql.DB
	dbPath string

	planCache *planStatusCache
}

// Config controls pool sizing. Zero values fall back to sensible defaults.
// PoolWaitTimeout is filled with its default but is not applied to the
// connection pool.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	PoolWaitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	if c.PoolWaitTimeout <= 0 {
		c.PoolWaitTimeout = 30 * time.Second
	}
	return c
}

// Open creates (or opens) the SQLite database at dbPath, applies pragmas
// for WAL journaling and foreign keys, and runs the embedded schema.
func Open(dbPath string, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cerrors.Wrap(cerrors.KindStore, "store", "open", err).
				WithRecovery("check that the parent directory is writable")
		}
	}

	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON&_temp_store=MEMORY"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cerrors.Wrap(cerrors.KindStore, "store", "open", err)
	}

	s := &Store{db: db, dbPath: dbPath, planCache: newPlanStatusCache(60 * time.Second)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "init_schema", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB so that package eventbus can persist
// into the events table of this same Store, per spec §4.2.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ensureColumn adds a column to table if it is not already present. This
// is a schema-drift safety net only: the primary path is the single
// embedded migration in schema.sql (design note, spec §9).
func (s *Store) ensureColumn(ctx context.Context, table, column, columnType string) error {
	if !identifierPattern.MatchString(table) || !identifierPattern.MatchString(column) {
		return cerrors.New(cerrors.KindStore, "store", "ensure_column", "invalid identifier")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "ensure_column", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return cerrors.Wrap(cerrors.KindStore, "store", "ensure_column", err)
		}
		if name == column {
			return nil
		}
	}

	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, columnType)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "ensure_column", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (spec §4.1 concurrency & durability).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "begin_tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return cerrors.Wrap(cerrors.KindStore, "store", "commit_tx", err)
	}
	return nil
}
