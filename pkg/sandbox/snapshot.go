package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/the-maldridge/nport/pkg/types"
)

// Snapshot lists every file, directory and symlink below dir in
// lexical order.  Paths are reported relative to dir with a leading
// slash.  Entries matching a skip pattern are left out along with
// everything below them.  Patterns containing glob characters are
// matched against the whole path, others match any path containing
// them.
func Snapshot(dir string, skip []string) ([]types.FileRecord, error) {
	var out []types.FileRecord
	err := filepath.WalkDir(dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = "/" + filepath.ToSlash(rel)
		if skipped(rel, skip) {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		fi, err := de.Info()
		if err != nil {
			return err
		}
		rec := types.FileRecord{
			Path:    rel,
			Mode:    fi.Mode().Perm(),
			ModTime: fi.ModTime(),
		}
		switch {
		case fi.Mode()&fs.ModeSymlink != 0:
			rec.Kind = types.KindSymlink
			if rec.LinkTarget, err = os.Readlink(p); err != nil {
				return err
			}
		case fi.IsDir():
			rec.Kind = types.KindDir
		case fi.Mode().IsRegular():
			rec.Kind = types.KindFile
			rec.Size = fi.Size()
		default:
			return nil
		}
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			rec.UID = int(st.Uid)
			rec.GID = int(st.Gid)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func skipped(rel string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.ContainsAny(pat, "*?[{") {
			if ok, _ := doublestar.Match(strings.TrimPrefix(pat, "/"), strings.TrimPrefix(rel, "/")); ok {
				return true
			}
			continue
		}
		if strings.Contains(rel, pat) {
			return true
		}
	}
	return false
}

// Diff returns the entries of after whose path is absent from
// before, in the order of after.
func Diff(before, after []types.FileRecord) []types.FileRecord {
	seen := make(map[string]struct{}, len(before))
	for _, r := range before {
		seen[r.Path] = struct{}{}
	}
	var out []types.FileRecord
	for _, r := range after {
		if _, ok := seen[r.Path]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// NormalizePermissions resets modes below dir to fileMode or dirMode
// while keeping execute bits already present on files.  Symlinks are
// left alone.
func NormalizePermissions(dir string, fileMode, dirMode os.FileMode) error {
	var dirs []string
	err := filepath.WalkDir(dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir || de.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if de.IsDir() {
			// Applied after the walk so a restrictive dirMode can't
			// lock us out of the subtree.
			dirs = append(dirs, p)
			return nil
		}
		if !de.Type().IsRegular() {
			return nil
		}
		fi, err := de.Info()
		if err != nil {
			return err
		}
		return os.Chmod(p, fileMode|(fi.Mode().Perm()&0o111))
	})
	if err != nil {
		return err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := os.Chmod(d, dirMode); err != nil {
			return err
		}
	}
	return nil
}
