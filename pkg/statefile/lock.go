// Package statefile guards the small JSON documents nport keeps on
// disk.  Writers take an exclusive advisory lock on a sidecar file
// for the whole read-modify-write cycle and replace the document with
// a rename, so a reader sees either the old or the new content and
// never a torn write.
package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// A Lock is a held exclusive flock.
type Lock struct {
	file *os.File
}

// LockPath returns the sidecar lock file used for path.
func LockPath(path string) string {
	return path + ".lock"
}

// Acquire blocks until it holds the exclusive lock for path.
func Acquire(path string) (*Lock, error) {
	lp := LockPath(path)
	if err := os.MkdirAll(filepath.Dir(lp), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lp, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lp, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lp, err)
	}
	return &Lock{file: f}, nil
}

// Release drops the lock.  Calling it more than once is harmless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
