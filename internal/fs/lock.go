package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockFileName is the name of the lock file created inside a locked directory.
const LockFileName = ".lock"

// ErrLocked is returned when another process holds the directory lock.
var ErrLocked = errors.New("fs: directory is locked by another process")

// DirLock is an exclusive advisory lock on a directory.
type DirLock struct {
	f *os.File
}

// LockDir creates dir if needed and takes an exclusive, non-blocking lock on it.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &DirLock{f: f}, nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *DirLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
