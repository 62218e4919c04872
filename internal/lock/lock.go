// Package lock implements the advisory, process-serializing file lock used
// to coordinate concurrent client-side daemon recovery (spec.md §4.B).
package lock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when the deadline elapses before the lock is
// acquired.
var ErrTimeout = errors.New("Timed out acquiring lock")

const pollInterval = 50 * time.Millisecond

// Lock is a held advisory exclusive lock on a file. Release unlinks the file
// best-effort, matching the teacher's persistence conventions of cleaning up
// after itself.
type Lock struct {
	file *os.File
	path string
}

// Acquire opens (creating if needed) the lock file at path and attempts to
// take an exclusive, non-blocking OS file lock. On contention it busy-waits
// in 50ms steps until either the lock is acquired or deadline has elapsed.
func Acquire(path string, deadline time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	start := time.Now()
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{file: f, path: path}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		if time.Since(start) >= deadline {
			f.Close()
			return nil, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

// Release drops the lock and best-effort unlinks the backing file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	os.Remove(l.path)
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
