package dag

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileLock provides cross-process mutual exclusion using flock(2).
// It keeps a running build and a concurrent "status" or "resume" from
// reading a half-written checkpoint.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a FileLock backed by dir/name.
func NewFileLock(dir, name string) *FileLock {
	return &FileLock{path: filepath.Join(dir, name)}
}

// Lock acquires an exclusive lock, blocking until available.
func (fl *FileLock) Lock() error {
	return fl.lock(syscall.LOCK_EX)
}

// RLock acquires a shared lock, blocking until available.
func (fl *FileLock) RLock() error {
	return fl.lock(syscall.LOCK_SH)
}

func (fl *FileLock) lock(how int) error {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// TryLock attempts an exclusive lock without blocking. It returns false if
// another process holds the lock.
func (fl *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return true, nil
}

// Unlock releases the lock and closes the lock file.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}
