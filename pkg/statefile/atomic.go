package statefile

import (
	"errors"
	"os"
	"path/filepath"
)

// WriteAtomic replaces path with data.  The bytes go to a temporary
// file in the same directory which is synced and renamed over the
// target.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// Update runs fn on the current content of path under the lock and
// atomically writes back whatever it returns.  A missing file reads
// as nil.  If fn returns an error nothing is written.
func Update(path string, perm os.FileMode, fn func([]byte) ([]byte, error)) error {
	lk, err := Acquire(path)
	if err != nil {
		return err
	}
	defer lk.Release()

	cur, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	return WriteAtomic(path, next, perm)
}

// Read returns the content of path while holding the lock.  A
// missing file reads as nil.
func Read(path string) ([]byte, error) {
	lk, err := Acquire(path)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}
