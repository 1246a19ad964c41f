// Package lock guards against two gateway processes sharing one data
// directory and corrupting the SQLite store.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Handle is an exclusive process lock backed by a PID file and flock(2).
// The lock holds as long as the descriptor stays open.
type Handle struct {
	path string
	f    *os.File
}

// Acquire takes a non-blocking exclusive lock at path and records the
// current PID in the file. A second opsgate process pointed at the same
// data directory fails here instead of racing on the database.
func Acquire(path string) (*Handle, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock (is another opsgate running?): %w", err)
	}

	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}
	return &Handle{path: path, f: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// Path reports where the lock file lives.
func (h *Handle) Path() string { return h.path }

// Release drops the lock. Safe to call on a nil or released handle.
func (h *Handle) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	_ = syscall.Flock(int(h.f.Fd()), syscall.LOCK_UN)
	err := h.f.Close()
	h.f = nil
	return err
}
