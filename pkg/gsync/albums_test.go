package gsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gphotosync/pkg/gphotos"
	"github.com/3leaps/gphotosync/pkg/localindex"
)

// albumsHandler serves a fixed album list and per-album media.
func albumsHandler(t *testing.T, albums []gphotos.Album, itemsByAlbum map[string][]gphotos.MediaItem) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/albums", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"albums": albums}))
	})
	mux.HandleFunc("/mediaItems:search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AlbumID string `json:"albumId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.AlbumID, "album indexing must always scope the search")

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"mediaItems": itemsByAlbum[req.AlbumID],
		}))
	})
	return mux
}

func newAlbumsEngine(t *testing.T, handler http.Handler, store *localindex.Store, root, runID, filter string) *AlbumsEngine {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := gphotos.NewClient(srv.Client(),
		gphotos.WithBaseURL(srv.URL),
		gphotos.WithRateLimit(0))

	return NewAlbumsEngine(AlbumsConfig{
		Client:      client,
		Store:       store,
		RootFolder:  root,
		RunID:       runID,
		AlbumFilter: filter,
	})
}

func TestIndexAlbumMedia(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)

	albums := []gphotos.Album{
		{ID: "alb1", Title: "Summer Trip"},
		{ID: "alb2", Title: "Other"},
	}
	itemsByAlbum := map[string][]gphotos.MediaItem{
		"alb1": {
			testItem("p1", "a.jpg", created, ""),
			testItem("p2", "b.jpg", created, ""),
		},
		"alb2": {
			testItem("p3", "c.jpg", created, ""),
		},
	}

	t.Run("stages membership and member media", func(t *testing.T) {
		store := newStore(t)
		runID := newRun(t, store)

		e := newAlbumsEngine(t, albumsHandler(t, albums, itemsByAlbum), store, t.TempDir(), runID, "")
		require.NoError(t, e.IndexAlbumMedia(ctx))
		require.NoError(t, store.Flush(ctx))

		got, err := store.ListAlbums(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)

		entries, err := store.ListAlbumEntries(ctx, "alb1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "p1", entries[0].RemoteID)
		assert.Equal(t, "p2", entries[1].RemoteID)

		// Album members land in the media index even when the main
		// index phase never saw them.
		m, err := store.GetMedia(ctx, "p3")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "2023/07/c.jpg", m.RelPath)
	})

	t.Run("album filter restricts indexing to one album", func(t *testing.T) {
		store := newStore(t)
		runID := newRun(t, store)

		e := newAlbumsEngine(t, albumsHandler(t, albums, itemsByAlbum), store, t.TempDir(), runID, "Summer Trip")
		require.NoError(t, e.IndexAlbumMedia(ctx))
		require.NoError(t, store.Flush(ctx))

		got, err := store.ListAlbums(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Summer Trip", got[0].Title)

		m, err := store.GetMedia(ctx, "p3")
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

func TestCreateAlbumContentLinks(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *localindex.Store, runID string) {
		t.Helper()
		require.NoError(t, store.StageMedia(ctx, runID, []localindex.MediaRow{
			{RemoteID: "p1", Filename: "a.jpg", RelPath: "2023/07/a.jpg"},
			{RemoteID: "p2", Filename: "b.jpg", RelPath: "2023/07/b.jpg"},
		}))
		require.NoError(t, store.StageAlbumItems(ctx, runID, "alb1", "Summer: Trip", []string{"p2", "p1"}))
		require.NoError(t, store.Flush(ctx))
	}

	t.Run("links downloaded entries in position order", func(t *testing.T) {
		store := newStore(t)
		runID := newRun(t, store)
		root := t.TempDir()
		seed(t, store, runID)

		for _, rel := range []string{"2023/07/a.jpg", "2023/07/b.jpg"} {
			path := filepath.Join(root, filepath.FromSlash(rel))
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
			require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
		}

		e := newAlbumsEngine(t, http.NotFoundHandler(), store, root, runID, "")
		require.NoError(t, e.CreateAlbumContentLinks(ctx))

		// Title is sanitized and suffixed with the album ID tail.
		dir := filepath.Join(root, "albums", "Summer_ Trip [alb1]")
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		// p2 was staged first, so it holds position 0.
		assert.Equal(t, "0000_b.jpg", entries[0].Name())
		assert.Equal(t, "0001_a.jpg", entries[1].Name())

		target, err := os.Readlink(filepath.Join(dir, "0001_a.jpg"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "2023", "07", "a.jpg"), target)
	})

	t.Run("missing local files are skipped not fatal", func(t *testing.T) {
		store := newStore(t)
		runID := newRun(t, store)
		root := t.TempDir()
		seed(t, store, runID)

		// Only a.jpg exists locally.
		path := filepath.Join(root, "2023", "07", "a.jpg")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

		e := newAlbumsEngine(t, http.NotFoundHandler(), store, root, runID, "")
		require.NoError(t, e.CreateAlbumContentLinks(ctx))

		entries, err := os.ReadDir(filepath.Join(root, "albums", "Summer_ Trip [alb1]"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "0001_a.jpg", entries[0].Name())
	})

	t.Run("rebuild drops stale links", func(t *testing.T) {
		store := newStore(t)
		runID := newRun(t, store)
		root := t.TempDir()
		seed(t, store, runID)

		stale := filepath.Join(root, "albums", "Old Album", "0000_gone.jpg")
		require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0700))
		require.NoError(t, os.WriteFile(stale, []byte("x"), 0600))

		e := newAlbumsEngine(t, http.NotFoundHandler(), store, root, runID, "")
		require.NoError(t, e.CreateAlbumContentLinks(ctx))

		assert.NoDirExists(t, filepath.Join(root, "albums", "Old Album"))
	})
}

func TestAlbumFolderName(t *testing.T) {
	tests := []struct {
		name  string
		album localindex.AlbumRow
		want  string
	}{
		{"plain", localindex.AlbumRow{AlbumID: "abcdefgh", Title: "Trip"}, "Trip [abcdefgh]"},
		{"long id keeps tail", localindex.AlbumRow{AlbumID: "0123456789abcdef", Title: "Trip"}, "Trip [89abcdef]"},
		{"separators replaced", localindex.AlbumRow{AlbumID: "id1", Title: "a/b\\c:d"}, "a_b_c_d [id1]"},
		{"empty title", localindex.AlbumRow{AlbumID: "id2", Title: "  "}, "untitled [id2]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, albumFolderName(tc.album))
		})
	}
}
