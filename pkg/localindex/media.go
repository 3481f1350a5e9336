package localindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MediaRow is one media item in the index.
type MediaRow struct {
	RemoteID   string
	Filename   string
	RelPath    string
	MimeType   string
	IsVideo    bool
	SizeBytes  int64
	CreateTime *time.Time
	BaseURL    string

	Downloaded    bool
	DownloadedAt  *time.Time
	RemovedAt     *time.Time
	LastSeenRunID string
}

// StageMedia writes media rows into the staging table. Staged rows are
// invisible to queries until Flush promotes them.
func (s *Store) StageMedia(ctx context.Context, runID string, rows []MediaRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO media_staging
		 (remote_id, filename, rel_path, mime_type, is_video, size_bytes, create_time, base_url, seen_run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(remote_id) DO UPDATE SET
		   filename=excluded.filename, rel_path=excluded.rel_path,
		   mime_type=excluded.mime_type, is_video=excluded.is_video,
		   size_bytes=excluded.size_bytes, create_time=excluded.create_time,
		   base_url=excluded.base_url, seen_run_id=excluded.seen_run_id`)
	if err != nil {
		return fmt.Errorf("prepare stage media: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.RemoteID, row.Filename, row.RelPath, row.MimeType,
			boolToInt(row.IsVideo), row.SizeBytes, row.CreateTime, row.BaseURL, runID)
		if err != nil {
			return fmt.Errorf("stage media %s: %w", row.RemoteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage media: %w", err)
	}
	return nil
}

// ListPendingDownloads returns items in the durable index that have
// not been downloaded and are not removed, oldest first.
func (s *Store) ListPendingDownloads(ctx context.Context) ([]MediaRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT remote_id, filename, rel_path, mime_type, is_video,
		        size_bytes, create_time, base_url, downloaded, downloaded_at,
		        removed_at, last_seen_run_id
		 FROM media_items
		 WHERE downloaded = 0 AND removed_at IS NULL
		 ORDER BY create_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending downloads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanMediaRows(rows)
}

// MarkDownloaded records a completed download for a media item.
func (s *Store) MarkDownloaded(ctx context.Context, remoteID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET downloaded = 1, downloaded_at = ? WHERE remote_id = ?`,
		now, remoteID)
	if err != nil {
		return fmt.Errorf("mark downloaded %s: %w", remoteID, err)
	}
	return nil
}

// ActiveRelPaths maps the relative paths of all live (non-removed)
// index entries to their remote IDs. Deletion reconciliation compares
// the local tree against this view.
func (s *Store) ActiveRelPaths(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rel_path, remote_id FROM media_items WHERE removed_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list active rel paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]string)
	for rows.Next() {
		var relPath, remoteID string
		if err := rows.Scan(&relPath, &remoteID); err != nil {
			return nil, fmt.Errorf("scan rel path: %w", err)
		}
		paths[relPath] = remoteID
	}
	return paths, rows.Err()
}

// MarkRemovedNotSeenInRun soft-deletes durable items whose last sighting
// predates the given run. Only called after a fully indexed run; a
// partial index must not be mistaken for remote deletions.
func (s *Store) MarkRemovedNotSeenInRun(ctx context.Context, runID string, runStartedAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE media_items
		 SET removed_at = ?
		 WHERE removed_at IS NULL AND last_seen_run_id != ?`,
		runStartedAt, runID)
	if err != nil {
		return 0, fmt.Errorf("mark removed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// GetMedia retrieves one durable media item, or nil if absent.
func (s *Store) GetMedia(ctx context.Context, remoteID string) (*MediaRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT remote_id, filename, rel_path, mime_type, is_video,
		        size_bytes, create_time, base_url, downloaded, downloaded_at,
		        removed_at, last_seen_run_id
		 FROM media_items WHERE remote_id = ?`, remoteID)

	m, err := scanMediaRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", remoteID, err)
	}
	return m, nil
}

// CountMedia counts durable items, optionally including removed ones.
func (s *Store) CountMedia(ctx context.Context, includeRemoved bool) (int64, error) {
	query := `SELECT COUNT(*) FROM media_items`
	if !includeRemoved {
		query += ` WHERE removed_at IS NULL`
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count media: %w", err)
	}
	return count, nil
}

// CountStagedMedia counts rows waiting in the staging table.
func (s *Store) CountStagedMedia(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_staging`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count staged media: %w", err)
	}
	return count, nil
}

func scanMediaRows(rows *sql.Rows) ([]MediaRow, error) {
	var items []MediaRow
	for rows.Next() {
		m, err := scanMediaRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		items = append(items, *m)
	}
	return items, rows.Err()
}

func scanMediaRow(scan func(dest ...any) error) (*MediaRow, error) {
	var m MediaRow
	var mimeType, baseURL sql.NullString
	var sizeBytes sql.NullInt64
	var isVideo, downloaded int
	var createTime, downloadedAt, removedAt sql.NullTime

	err := scan(&m.RemoteID, &m.Filename, &m.RelPath, &mimeType, &isVideo,
		&sizeBytes, &createTime, &baseURL, &downloaded, &downloadedAt,
		&removedAt, &m.LastSeenRunID)
	if err != nil {
		return nil, err
	}

	m.MimeType = mimeType.String
	m.BaseURL = baseURL.String
	m.SizeBytes = sizeBytes.Int64
	m.IsVideo = isVideo != 0
	m.Downloaded = downloaded != 0
	if createTime.Valid {
		m.CreateTime = &createTime.Time
	}
	if downloadedAt.Valid {
		m.DownloadedAt = &downloadedAt.Time
	}
	if removedAt.Valid {
		m.RemovedAt = &removedAt.Time
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
