package localindex

import (
	"context"
	"fmt"
)

// AlbumRow is one album in the durable index.
type AlbumRow struct {
	AlbumID       string
	Title         string
	ItemCount     int64
	LastSeenRunID string
}

// AlbumEntry is one media item inside an album, joined against the
// media index so linking can resolve the local file path.
type AlbumEntry struct {
	RemoteID   string
	Position   int64
	RelPath    string
	Downloaded bool
}

// StageAlbumItems writes album membership rows into staging. Flush
// replaces the album's durable membership wholesale, so a shrunken
// album loses its stale entries.
func (s *Store) StageAlbumItems(ctx context.Context, runID, albumID, title string, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO album_staging (album_id, title, remote_id, position, seen_run_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(album_id, remote_id) DO UPDATE SET
		   title=excluded.title, position=excluded.position, seen_run_id=excluded.seen_run_id`)
	if err != nil {
		return fmt.Errorf("prepare stage album items: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, remoteID := range remoteIDs {
		if _, err := stmt.ExecContext(ctx, albumID, title, remoteID, i, runID); err != nil {
			return fmt.Errorf("stage album item %s/%s: %w", albumID, remoteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage album items: %w", err)
	}
	return nil
}

// ListAlbums returns all albums in the durable index.
func (s *Store) ListAlbums(ctx context.Context) ([]AlbumRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT album_id, title, item_count, last_seen_run_id FROM albums ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var albums []AlbumRow
	for rows.Next() {
		var a AlbumRow
		if err := rows.Scan(&a.AlbumID, &a.Title, &a.ItemCount, &a.LastSeenRunID); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// ListAlbumEntries returns an album's membership in position order,
// with each entry's local relative path from the media index.
func (s *Store) ListAlbumEntries(ctx context.Context, albumID string) ([]AlbumEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ai.remote_id, ai.position, m.rel_path, m.downloaded
		 FROM album_items ai
		 JOIN media_items m ON m.remote_id = ai.remote_id
		 WHERE ai.album_id = ? AND m.removed_at IS NULL
		 ORDER BY ai.position ASC`,
		albumID)
	if err != nil {
		return nil, fmt.Errorf("list album entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AlbumEntry
	for rows.Next() {
		var e AlbumEntry
		var downloaded int
		if err := rows.Scan(&e.RemoteID, &e.Position, &e.RelPath, &downloaded); err != nil {
			return nil, fmt.Errorf("scan album entry: %w", err)
		}
		e.Downloaded = downloaded != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
