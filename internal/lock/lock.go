// Package lock keeps a single bot instance per lock file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock: held by another process")

// Lock is an exclusive advisory lock on a file holding the owner's PID.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at path without blocking.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lock: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock: flock: %w", err)
	}

	if err := writePID(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{path: path, f: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("lock: truncate: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("lock: write pid: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file if it still holds our PID, then unlocks.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if data, err := os.ReadFile(l.path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == os.Getpid() {
			_ = os.Remove(l.path)
		}
	}
	err := l.f.Close() // closing the descriptor drops the flock
	l.f = nil
	return err
}
