// Package localindex is the durable store for the media and album
// index. It persists the index across runs so a later invocation can
// skip indexing and proceed straight to downloads.
//
// Index phases write into staging tables; Flush promotes staging into
// the durable tables in a single transaction. That is the atomicity
// the persist phase relies on.
package localindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const driverSQLite = "gphotosync-sqlite"

func init() {
	sql.Register(driverSQLite, &sqlite.Driver{})
}

type Config struct {
	// Path is the local filesystem path to the index database.
	Path string

	// Reset drops an existing database file before opening, forcing a
	// full re-scan (the --flush-index behavior).
	Reset bool
}

// Store owns the index database connection for the duration of a run.
// It is opened by the entry controller before the pipeline runs and
// closed after, on every exit path.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the SQLite index database and
// migrates the schema. Local CLI usage keeps a single connection with
// WAL and a busy timeout for predictable behavior.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("index store path is required")
	}

	if cfg.Reset && path != ":memory:" {
		// WAL sidecars must go with the main file or SQLite rejects
		// the mismatched journal on the next open.
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reset index store: %w", err)
			}
		}
	}

	dsn := path
	if path != ":memory:" {
		if err := ensureStoreDir(path); err != nil {
			return nil, err
		}
		dsn = "file:" + filepath.Clean(path)
	}

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping index store: %w", err)
	}

	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database. Safe to call once per Open.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close index store: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	// Keep a single connection: reduces WAL lock contention on disk,
	// and an in-memory database vanishes if its connection is recycled.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	return nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
