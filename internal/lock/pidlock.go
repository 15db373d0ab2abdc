// Package lock guards against two control planes sharing one data directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// Handle is a held single-instance lock. The flock lives as long as the file
// descriptor stays open.
type Handle struct {
	path string
	file *os.File
}

// Acquire takes an exclusive non-blocking flock at path and stamps it with
// our PID. A second instance fails immediately instead of corrupting state.
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
		return nil, fmt.Errorf("another instance holds %s: %w", path, err)
	}

	if err := stampPID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}
	return &Handle{path: path, file: f}, nil
}

func stampPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return f.Sync()
}

func (h *Handle) Path() string { return h.path }

// Release drops the flock. Safe to call on a nil or already released handle.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	_ = syscall.Flock(int(h.file.Fd()), syscall.LOCK_UN)
	err := h.file.Close()
	h.file = nil
	return err
}
