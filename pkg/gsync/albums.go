package gsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gphotosync/pkg/gphotos"
	"github.com/3leaps/gphotosync/pkg/localindex"
)

// albumsDirName is the folder under the sync root where album views
// are materialized as symlinks into the dated photo tree.
const albumsDirName = "albums"

// AlbumsConfig wires an AlbumsEngine.
type AlbumsConfig struct {
	Client     *gphotos.Client
	Store      *localindex.Store
	RootFolder string
	RunID      string

	// AlbumFilter restricts indexing to albums whose title matches
	// exactly. Empty means all albums.
	AlbumFilter string

	Log *zap.Logger
}

// AlbumsEngine indexes album membership and materializes album folders.
type AlbumsEngine struct {
	client      *gphotos.Client
	store       *localindex.Store
	root        string
	runID       string
	albumFilter string
	log         *zap.Logger
}

func NewAlbumsEngine(cfg AlbumsConfig) *AlbumsEngine {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &AlbumsEngine{
		client:      cfg.Client,
		store:       cfg.Store,
		root:        cfg.RootFolder,
		runID:       cfg.RunID,
		albumFilter: cfg.AlbumFilter,
		log:         log,
	}
}

// IndexAlbumMedia lists remote albums and stages each album's
// membership. Items found only via an album (outside any date filter
// applied to the main index) are staged into the media index too, so
// album-scoped runs still have rows to download and link.
func (e *AlbumsEngine) IndexAlbumMedia(ctx context.Context) error {
	var albums, entries int64

	err := e.client.ListAlbums(ctx, func(page []gphotos.Album) error {
		for _, album := range page {
			if e.albumFilter != "" && album.Title != e.albumFilter {
				continue
			}
			n, err := e.indexAlbum(ctx, album)
			if err != nil {
				return err
			}
			albums++
			entries += n
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index album media: %w", err)
	}

	e.log.Info("album index staged",
		zap.Int64("albums", albums),
		zap.Int64("entries", entries))
	return nil
}

func (e *AlbumsEngine) indexAlbum(ctx context.Context, album gphotos.Album) (int64, error) {
	var remoteIDs []string

	err := e.client.AlbumContents(ctx, album.ID, func(items []gphotos.MediaItem) error {
		rows := make([]localindex.MediaRow, 0, len(items))
		for _, item := range items {
			remoteIDs = append(remoteIDs, item.ID)
			rows = append(rows, mediaRowFromItem(item))
		}
		return e.store.StageMedia(ctx, e.runID, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("album %q: %w", album.Title, err)
	}

	if err := e.store.StageAlbumItems(ctx, e.runID, album.ID, album.Title, remoteIDs); err != nil {
		return 0, fmt.Errorf("album %q: %w", album.Title, err)
	}

	e.log.Debug("indexed album",
		zap.String("title", album.Title),
		zap.Int("items", len(remoteIDs)))
	return int64(len(remoteIDs)), nil
}

// CreateAlbumContentLinks rebuilds the albums/ tree from the durable
// index: one folder per album, one symlink per downloaded entry,
// position-ordered via a numeric filename prefix. The tree is removed
// and rebuilt wholesale so renames and removals never leave stale
// links behind.
func (e *AlbumsEngine) CreateAlbumContentLinks(ctx context.Context) error {
	albumsDir := filepath.Join(e.root, albumsDirName)
	if err := os.RemoveAll(albumsDir); err != nil {
		return fmt.Errorf("clear albums directory: %w", err)
	}

	albums, err := e.store.ListAlbums(ctx)
	if err != nil {
		return fmt.Errorf("create album links: %w", err)
	}

	var linked int64
	for _, album := range albums {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := e.store.ListAlbumEntries(ctx, album.AlbumID)
		if err != nil {
			return fmt.Errorf("create album links: %w", err)
		}

		n, err := e.linkAlbum(album, entries)
		if err != nil {
			return fmt.Errorf("link album %q: %w", album.Title, err)
		}
		linked += n
	}

	e.log.Info("album links created",
		zap.Int("albums", len(albums)),
		zap.Int64("links", linked))
	return nil
}

func (e *AlbumsEngine) linkAlbum(album localindex.AlbumRow, entries []localindex.AlbumEntry) (int64, error) {
	dir := filepath.Join(e.root, albumsDirName, albumFolderName(album))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return 0, fmt.Errorf("create album directory: %w", err)
	}

	var linked int64
	for _, entry := range entries {
		target := filepath.Join(e.root, filepath.FromSlash(entry.RelPath))
		if _, err := os.Stat(target); err != nil {
			// Not downloaded yet (skip-files run or pending item).
			continue
		}

		linkName := fmt.Sprintf("%04d_%s", entry.Position, filepath.Base(entry.RelPath))
		if err := os.Symlink(target, filepath.Join(dir, linkName)); err != nil {
			return linked, fmt.Errorf("symlink %s: %w", linkName, err)
		}
		linked++
	}
	return linked, nil
}

// albumFolderName derives a filesystem-safe folder name. Album titles
// may repeat or be empty, so the remote ID tail keeps names unique.
func albumFolderName(album localindex.AlbumRow) string {
	title := sanitizeTitle(album.Title)
	if title == "" {
		title = "untitled"
	}

	tail := album.AlbumID
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return title + " [" + tail + "]"
}

func sanitizeTitle(title string) string {
	mapper := func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}
	return strings.TrimSpace(strings.Map(mapper, title))
}
