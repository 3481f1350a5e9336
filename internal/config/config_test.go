package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("log-level", "info")
	return v
}

func TestResolve(t *testing.T) {
	t.Run("defaults db path to root folder", func(t *testing.T) {
		root := t.TempDir()

		cfg, err := Resolve(newTestViper(), root)
		require.NoError(t, err)

		assert.Equal(t, root, cfg.RootFolder)
		assert.Equal(t, root, cfg.DBPath)
		assert.Equal(t, filepath.Join(root, LockFileName), cfg.LockPath())
		assert.Equal(t, filepath.Join(root, TraceFileName), cfg.TracePath())
		assert.Equal(t, filepath.Join(root, DBFileName), cfg.DatabaseFile())
	})

	t.Run("creates missing root folder with 0700", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "photos")

		cfg, err := Resolve(newTestViper(), root)
		require.NoError(t, err)

		info, err := os.Stat(cfg.RootFolder)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	})

	t.Run("separate db path keeps lock at db path", func(t *testing.T) {
		root := t.TempDir()
		dbDir := t.TempDir()

		v := newTestViper()
		v.Set("db-path", dbDir)

		cfg, err := Resolve(v, root)
		require.NoError(t, err)

		assert.Equal(t, dbDir, cfg.DBPath)
		assert.Equal(t, filepath.Join(dbDir, LockFileName), cfg.LockPath())
		// Trace file stays with the download tree.
		assert.Equal(t, filepath.Join(root, TraceFileName), cfg.TracePath())
	})

	t.Run("parses plain dates", func(t *testing.T) {
		v := newTestViper()
		v.Set("start-date", "2023-01-15")
		v.Set("end-date", "2024-06-30")

		cfg, err := Resolve(v, t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), cfg.StartDate)
		assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), cfg.EndDate)
	})

	t.Run("rejects inverted date range", func(t *testing.T) {
		v := newTestViper()
		v.Set("start-date", "2024-01-01")
		v.Set("end-date", "2023-01-01")

		_, err := Resolve(v, t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before start date")
	})

	t.Run("rejects malformed date", func(t *testing.T) {
		v := newTestViper()
		v.Set("start-date", "January 2023")

		_, err := Resolve(v, t.TempDir())
		require.Error(t, err)
	})

	t.Run("empty dates mean no bound", func(t *testing.T) {
		cfg, err := Resolve(newTestViper(), t.TempDir())
		require.NoError(t, err)

		assert.True(t, cfg.StartDate.IsZero())
		assert.True(t, cfg.EndDate.IsZero())
	})

	t.Run("flag toggles decode", func(t *testing.T) {
		v := newTestViper()
		v.Set("skip-index", true)
		v.Set("do-delete", true)
		v.Set("strict-exit", true)
		v.Set("album", "Holiday 2024")

		cfg, err := Resolve(v, t.TempDir())
		require.NoError(t, err)

		assert.True(t, cfg.SkipIndex)
		assert.True(t, cfg.DoDelete)
		assert.True(t, cfg.StrictExit)
		assert.False(t, cfg.IndexOnly)
		assert.Equal(t, "Holiday 2024", cfg.Album)
	})
}
