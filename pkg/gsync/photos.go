// Package gsync implements the photo and album sync engines that the
// pipeline drives: indexing remote metadata into the local store,
// downloading media bytes, materializing albums, and reconciling
// remote deletions against the local tree.
package gsync

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/gphotosync/pkg/gphotos"
	"github.com/3leaps/gphotosync/pkg/localindex"
)

// defaultExcludes keeps the tool's own artifacts and album links out
// of local scans: the trace file, the index database and its WAL
// sidecars, the lock file, and everything under albums/.
var defaultExcludes = []string{
	".gphotos*",
	"gphotos.lock",
	"albums/**",
	"**/.*",
}

// PhotosConfig wires a PhotosEngine.
type PhotosConfig struct {
	Client     *gphotos.Client
	Store      *localindex.Store
	RootFolder string
	RunID      string

	StartDate time.Time
	EndDate   time.Time
	SkipVideo bool

	// AlbumTitle scopes indexing to the album with this exact title.
	// Empty means the whole library.
	AlbumTitle string

	// Excludes are doublestar patterns (relative to the root folder)
	// that local scans ignore, on top of the built-in set.
	Excludes []string

	// MarkNotSeen enables soft-deleting index entries that this run's
	// index phase did not see. Only safe when the run indexed the full
	// library: a date- or album-filtered index must not mistake
	// out-of-scope items for remote deletions.
	MarkNotSeen bool

	Log *zap.Logger
}

// PhotosEngine indexes, downloads, and reconciles media items.
type PhotosEngine struct {
	client      *gphotos.Client
	store       *localindex.Store
	root        string
	runID       string
	filter      gphotos.SearchFilter
	albumTitle  string
	excludes    []string
	markNotSeen bool
	log         *zap.Logger
}

func NewPhotosEngine(cfg PhotosConfig) *PhotosEngine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &PhotosEngine{
		client: cfg.Client,
		store:  cfg.Store,
		root:   cfg.RootFolder,
		runID:  cfg.RunID,
		filter: gphotos.SearchFilter{
			StartDate:  cfg.StartDate,
			EndDate:    cfg.EndDate,
			PhotosOnly: cfg.SkipVideo,
		},
		albumTitle:  cfg.AlbumTitle,
		excludes:    append(append([]string{}, defaultExcludes...), cfg.Excludes...),
		markNotSeen: cfg.MarkNotSeen,
		log:         log,
	}
}

// IndexMedia pages through the remote library and stages metadata for
// every matching item. Nothing becomes durable until the persist phase
// flushes the staging tables.
func (e *PhotosEngine) IndexMedia(ctx context.Context) error {
	filter := e.filter
	if e.albumTitle != "" {
		albumID, err := e.resolveAlbumID(ctx)
		if err != nil {
			return fmt.Errorf("index media: %w", err)
		}
		// Album scope replaces other filters; the API rejects the
		// combination anyway.
		filter = gphotos.SearchFilter{AlbumID: albumID}
	}

	var total int64
	err := e.client.SearchMedia(ctx, filter, func(items []gphotos.MediaItem) error {
		rows := make([]localindex.MediaRow, 0, len(items))
		for _, item := range items {
			rows = append(rows, mediaRowFromItem(item))
		}
		if err := e.store.StageMedia(ctx, e.runID, rows); err != nil {
			return err
		}
		total += int64(len(rows))
		if total%1000 == 0 {
			e.log.Info("indexing media", zap.Int64("items", total))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index media: %w", err)
	}

	e.log.Info("media index staged", zap.Int64("items", total))
	return nil
}

func (e *PhotosEngine) resolveAlbumID(ctx context.Context) (string, error) {
	var id string
	err := e.client.ListAlbums(ctx, func(albums []gphotos.Album) error {
		for _, album := range albums {
			if album.Title == e.albumTitle {
				id = album.ID
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("album %q not found", e.albumTitle)
	}
	return id, nil
}

// DownloadMedia fetches every pending item in the durable index that
// is not already present locally. Files land under root/YYYY/MM/ and
// are written via a .part temp name so an interrupted download never
// leaves a truncated file behind.
func (e *PhotosEngine) DownloadMedia(ctx context.Context) error {
	pending, err := e.store.ListPendingDownloads(ctx)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}

	var fetched, skipped int64
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := filepath.Join(e.root, filepath.FromSlash(item.RelPath))

		if info, err := os.Stat(target); err == nil && info.Size() > 0 {
			// Already on disk from a previous run.
			if err := e.store.MarkDownloaded(ctx, item.RemoteID); err != nil {
				return err
			}
			skipped++
			continue
		}

		if err := e.downloadOne(ctx, item, target); err != nil {
			return fmt.Errorf("download %s: %w", item.RelPath, err)
		}
		if err := e.store.MarkDownloaded(ctx, item.RemoteID); err != nil {
			return err
		}
		fetched++
		if fetched%100 == 0 {
			e.log.Info("downloading media", zap.Int64("fetched", fetched))
		}
	}

	e.log.Info("downloads complete",
		zap.Int64("fetched", fetched),
		zap.Int64("already_present", skipped))
	return nil
}

func (e *PhotosEngine) downloadOne(ctx context.Context, row localindex.MediaRow, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("create media directory: %w", err)
	}

	part := target + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	item := gphotos.MediaItem{
		ID:       row.RemoteID,
		Filename: row.Filename,
		BaseURL:  row.BaseURL,
	}
	if row.IsVideo {
		item.MediaMetadata.Video = &gphotos.VideoMetadata{}
	}

	if _, err := e.client.Download(ctx, item, f); err != nil {
		_ = f.Close()
		_ = os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(part, target); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}

// CheckRemovedMedia walks the local tree and deletes files that have
// no live counterpart in the index. It runs against the freshly linked
// local view, so the persisted index is the single source of truth for
// what should exist.
func (e *PhotosEngine) CheckRemovedMedia(ctx context.Context) error {
	if e.markNotSeen {
		marked, err := e.store.MarkRemovedNotSeenInRun(ctx, e.runID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("check removed media: %w", err)
		}
		if marked > 0 {
			e.log.Info("marked items removed remotely", zap.Int64("count", marked))
		}
	}

	live, err := e.store.ActiveRelPaths(ctx)
	if err != nil {
		return fmt.Errorf("check removed media: %w", err)
	}

	var removed int64
	err = filepath.WalkDir(e.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(e.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if e.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		if _, ok := live[rel]; !ok {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", rel, err)
			}
			removed++
			e.log.Debug("removed local file", zap.String("path", rel))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("check removed media: %w", err)
	}

	e.log.Info("deletion reconciliation complete", zap.Int64("removed", removed))
	return nil
}

func (e *PhotosEngine) excluded(rel string) bool {
	for _, pattern := range e.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// mediaRowFromItem maps a remote item onto its index row. Local layout
// is YYYY/MM/filename keyed on capture time; items without a capture
// time land under 0000/00.
func mediaRowFromItem(item gphotos.MediaItem) localindex.MediaRow {
	row := localindex.MediaRow{
		RemoteID: item.ID,
		Filename: item.Filename,
		MimeType: item.MimeType,
		IsVideo:  item.IsVideo(),
		BaseURL:  item.BaseURL,
	}

	folder := "0000/00"
	if !item.MediaMetadata.CreationTime.IsZero() {
		created := item.MediaMetadata.CreationTime.UTC()
		row.CreateTime = &created
		folder = created.Format("2006/01")
	}
	row.RelPath = folder + "/" + item.Filename

	return row
}
