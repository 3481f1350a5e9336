package localindex

import (
	"context"
	"fmt"
)

const schemaVersion = 1

// migrate creates the index schema in place.
//
// Durable tables carry the persisted index; *_staging tables hold rows
// written by the current run's index phases until Flush promotes them.
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS sync_runs (
			run_id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			status TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);`,

		`CREATE TABLE IF NOT EXISTS media_items (
			remote_id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			rel_path TEXT NOT NULL,
			mime_type TEXT,
			is_video INTEGER NOT NULL DEFAULT 0,
			size_bytes INTEGER,
			create_time TIMESTAMP,
			base_url TEXT,
			downloaded INTEGER NOT NULL DEFAULT 0,
			downloaded_at TIMESTAMP,
			removed_at TIMESTAMP,
			last_seen_run_id TEXT NOT NULL,
			FOREIGN KEY(last_seen_run_id) REFERENCES sync_runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_rel_path ON media_items(rel_path);`,
		`CREATE INDEX IF NOT EXISTS idx_media_items_downloaded ON media_items(downloaded, removed_at);`,

		`CREATE TABLE IF NOT EXISTS media_staging (
			remote_id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			rel_path TEXT NOT NULL,
			mime_type TEXT,
			is_video INTEGER NOT NULL DEFAULT 0,
			size_bytes INTEGER,
			create_time TIMESTAMP,
			base_url TEXT,
			seen_run_id TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS albums (
			album_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			item_count INTEGER NOT NULL DEFAULT 0,
			last_seen_run_id TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS album_items (
			album_id TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY(album_id, remote_id),
			FOREIGN KEY(album_id) REFERENCES albums(album_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_album_items_album ON album_items(album_id, position);`,

		`CREATE TABLE IF NOT EXISTS album_staging (
			album_id TEXT NOT NULL,
			title TEXT NOT NULL,
			remote_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			seen_run_id TEXT NOT NULL,
			PRIMARY KEY(album_id, remote_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != schemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, schemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
