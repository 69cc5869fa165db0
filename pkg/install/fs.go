package install

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/the-maldridge/nport/pkg/types"
)

// statfsFree reports the space available on the filesystem that
// holds path, or would hold it once created.
func statfsFree(path string) (uint64, error) {
	for {
		var st unix.Statfs_t
		err := unix.Statfs(path, &st)
		if err == nil {
			return st.Bavail * uint64(st.Bsize), nil
		}
		if !errors.Is(err, unix.ENOENT) {
			return 0, err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return 0, err
		}
		path = parent
	}
}

// setMeta applies ownership, permissions and mtime.  Ownership only
// changes when running as root.
func setMeta(path string, kind types.FileKind, mode os.FileMode, uid, gid int, mtime time.Time) error {
	if os.Geteuid() == 0 {
		if err := unix.Lchown(path, uid, gid); err != nil {
			return err
		}
	}
	if kind == types.KindSymlink {
		if mtime.IsZero() {
			return nil
		}
		ts := []unix.Timespec{unix.NsecToTimespec(mtime.UnixNano()), unix.NsecToTimespec(mtime.UnixNano())}
		return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
	}
	if err := os.Chmod(path, mode.Perm()); err != nil {
		return err
	}
	if mtime.IsZero() {
		return nil
	}
	return os.Chtimes(path, mtime, mtime)
}

// writeFileAtomic copies src over dst through a temporary file in
// dst's directory, so dst is never seen half written.
func writeFileAtomic(src, dst string, rec types.FileRecord) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".nport-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := setMeta(tmp.Name(), types.KindFile, rec.Mode, rec.UID, rec.GID, rec.ModTime); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// place puts one staged entry at target, replacing whatever is
// there.
func place(source, target string, rec types.FileRecord) error {
	fi, err := os.Lstat(target)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	switch rec.Kind {
	case types.KindDir:
		if linkedDir(target) {
			return nil
		}
		if exists && !fi.IsDir() {
			if err := os.Remove(target); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		return setMeta(target, rec.Kind, rec.Mode, rec.UID, rec.GID, time.Time{})
	case types.KindSymlink:
		if exists {
			if err := os.RemoveAll(target); err != nil {
				return err
			}
		}
		if err := os.Symlink(rec.LinkTarget, target); err != nil {
			return err
		}
		return setMeta(target, rec.Kind, 0, rec.UID, rec.GID, time.Time{})
	default:
		if exists && fi.IsDir() {
			if err := os.RemoveAll(target); err != nil {
				return err
			}
		}
		return writeFileAtomic(filepath.Join(source, filepath.FromSlash(rec.Path)), target, rec)
	}
}

// linkedDir reports whether target is a symlink resolving to a
// directory, as /lib is on a merged-usr host.  Such links belong to
// the host and are used as the directory they point at.
func linkedDir(target string) bool {
	fi, err := os.Lstat(target)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return false
	}
	st, err := os.Stat(target)
	return err == nil && st.IsDir()
}

// dirsOf returns the paths of files that have other paths of files
// below them, that is the directories a package recorded.
func dirsOf(files []string) map[string]bool {
	dirs := make(map[string]bool)
	for _, f := range files {
		for d := path.Dir(f); d != "/" && d != "." && !dirs[d]; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	return dirs
}

// record describes what is at path now.
func record(path string, fi os.FileInfo) backupEntry {
	e := backupEntry{
		Path:    path,
		Existed: true,
		Mode:    fi.Mode().Perm(),
		ModTime: fi.ModTime(),
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		e.UID = int(st.Uid)
		e.GID = int(st.Gid)
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		e.Kind = types.KindSymlink
	case fi.IsDir():
		e.Kind = types.KindDir
	default:
		e.Kind = types.KindFile
	}
	return e
}

// copyOut saves the entry at src below dst keeping its metadata.
// Directories are copied with everything in them.
func copyOut(src, dst string) error {
	return filepath.WalkDir(src, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		fi, err := os.Lstat(p)
		if err != nil {
			return err
		}
		e := record(p, fi)
		switch e.Kind {
		case types.KindDir:
			if err := os.MkdirAll(target, 0700); err != nil {
				return err
			}
		case types.KindSymlink:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
		default:
			if !fi.Mode().IsRegular() {
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return err
			}
			if err := writeFileAtomic(p, target, types.FileRecord{Mode: e.Mode, UID: e.UID, GID: e.GID, ModTime: e.ModTime}); err != nil {
				return err
			}
		}
		return nil
	})
}

// fixDirs applies the metadata of the directories below src to their
// copies below dst.  Done after the content is in place so that
// read-only directories can be filled first.
func fixDirs(src, dst string) error {
	var dirs []string
	err := filepath.WalkDir(src, func(p string, de fs.DirEntry, err error) error {
		if err == nil && de.IsDir() {
			dirs = append(dirs, p)
		}
		return err
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		fi, err := os.Lstat(dirs[i])
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, dirs[i])
		e := record(dirs[i], fi)
		if err := setMeta(filepath.Join(dst, rel), e.Kind, e.Mode, e.UID, e.GID, e.ModTime); err != nil {
			return err
		}
	}
	return nil
}

// depth counts the separators in a slash rooted path.
func depth(p string) int {
	return strings.Count(strings.TrimSuffix(p, "/"), "/")
}

func isNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}
