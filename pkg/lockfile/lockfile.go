// Package lockfile provides single-host mutual exclusion between
// invocations via a non-blocking advisory lock on a well-known file.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrLocked is returned by Acquire when another live process holds the
// lock. Callers treat this as contention, not failure.
var ErrLocked = errors.New("lock is held by another process")

// Lock is an exclusively held advisory lock on a single file path.
// At most one live Lock exists per path on a host. The OS releases the
// underlying lock when the owning process dies, so a crashed holder
// never leaves the path locked.
type Lock struct {
	path string
	pid  string
	file *os.File
}

// Acquire opens (creating if absent) the file at path and attempts a
// non-blocking exclusive lock on it. If the lock is already held the
// attempt fails immediately with ErrLocked; there is no retry, polling,
// or timeout.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := flock(f); err != nil {
		holder := readHolderPID(f)
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			if holder > 0 {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, holder)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}

	l := &Lock{path: path, pid: strconv.Itoa(os.Getpid()), file: f}
	l.writePID()
	return l, nil
}

// Release unlocks and closes the lock file. Safe to call more than once.
// The file itself is left in place for faster subsequent acquires.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := funlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file %s: %w", l.path, closeErr)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// writePID records the holder PID inside the lock file so contention
// log lines can name the other instance. Best-effort only; the flock is
// what actually guards the run.
func (l *Lock) writePID() {
	_ = l.file.Truncate(0)
	_, _ = l.file.WriteAt([]byte(l.pid+"\n"), 0)
	_ = l.file.Sync()
}

func readHolderPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
