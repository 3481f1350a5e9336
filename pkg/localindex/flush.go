package localindex

import (
	"context"
	"fmt"
)

// Flush promotes staged media and album rows into the durable tables
// in one transaction, then clears staging.
//
// This is the persist phase of the pipeline. After Flush returns, a
// later invocation can serve downloads and album linking from the
// durable tables alone. Download state of existing items is preserved;
// a re-indexed item that was previously soft-removed comes back live.
func (s *Store) Flush(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The WHERE true disambiguates the upsert clause for SQLite.
	stmts := []string{
		`INSERT INTO media_items
		   (remote_id, filename, rel_path, mime_type, is_video, size_bytes,
		    create_time, base_url, last_seen_run_id)
		 SELECT remote_id, filename, rel_path, mime_type, is_video, size_bytes,
		        create_time, base_url, seen_run_id
		 FROM media_staging WHERE true
		 ON CONFLICT(remote_id) DO UPDATE SET
		   filename=excluded.filename, rel_path=excluded.rel_path,
		   mime_type=excluded.mime_type, is_video=excluded.is_video,
		   size_bytes=excluded.size_bytes, create_time=excluded.create_time,
		   base_url=excluded.base_url, last_seen_run_id=excluded.last_seen_run_id,
		   removed_at=NULL;`,

		`INSERT INTO albums (album_id, title, item_count, last_seen_run_id)
		 SELECT album_id, MIN(title), COUNT(*), MIN(seen_run_id)
		 FROM album_staging WHERE true
		 GROUP BY album_id
		 ON CONFLICT(album_id) DO UPDATE SET
		   title=excluded.title, item_count=excluded.item_count,
		   last_seen_run_id=excluded.last_seen_run_id;`,

		`DELETE FROM album_items
		 WHERE album_id IN (SELECT DISTINCT album_id FROM album_staging);`,

		`INSERT INTO album_items (album_id, remote_id, position)
		 SELECT album_id, remote_id, position FROM album_staging;`,

		`DELETE FROM media_staging;`,
		`DELETE FROM album_staging;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("flush staged index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush tx: %w", err)
	}
	return nil
}
