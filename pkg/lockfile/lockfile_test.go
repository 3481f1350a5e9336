package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	t.Run("acquires and creates lock file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gphotos.lock")

		l, err := Acquire(path)
		require.NoError(t, err)
		defer func() { _ = l.Release() }()

		_, err = os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, path, l.Path())
	})

	t.Run("second acquire fails immediately", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gphotos.lock")

		first, err := Acquire(path)
		require.NoError(t, err)
		defer func() { _ = first.Release() }()

		// flock conflicts across open file descriptions, so a second
		// acquire in the same process behaves like a second instance.
		second, err := Acquire(path)
		require.ErrorIs(t, err, ErrLocked)
		assert.Nil(t, second)
	})

	t.Run("release frees the lock for the next acquire", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gphotos.lock")

		first, err := Acquire(path)
		require.NoError(t, err)
		require.NoError(t, first.Release())

		second, err := Acquire(path)
		require.NoError(t, err)
		assert.NoError(t, second.Release())
	})

	t.Run("records holder pid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gphotos.lock")

		l, err := Acquire(path)
		require.NoError(t, err)
		defer func() { _ = l.Release() }()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
	})

	t.Run("contention error names the holder", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gphotos.lock")

		l, err := Acquire(path)
		require.NoError(t, err)
		defer func() { _ = l.Release() }()

		_, err = Acquire(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
	})
}

func TestRelease(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gphotos.lock")

		l, err := Acquire(path)
		require.NoError(t, err)

		require.NoError(t, l.Release())
		require.NoError(t, l.Release())
	})

	t.Run("nil-safe", func(t *testing.T) {
		var l *Lock
		assert.NoError(t, l.Release())
	})
}
