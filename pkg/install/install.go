// Package install moves staged files onto the live system and takes
// them away again.  Every change is journaled and backed up first so
// that a failure, or an interrupted run, leaves the system as it was.
package install

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/types"
)

// New returns an Installer that records into lg.
func New(l hclog.Logger, lg Ledger, opts ...Option) *Installer {
	i := &Installer{
		l:           l.Named("install"),
		root:        "/",
		ledger:      lg,
		journal:     "/var/lib/nport/journal",
		spaceFactor: 2,
		freeSpace:   statfsFree,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Installer) target(p string) string {
	return filepath.Join(i.root, filepath.FromSlash(p))
}

// Install copies req's files into the root and records the package.
func (i *Installer) Install(ctx context.Context, req Request) (types.InstalledEntry, error) {
	l := i.l.With("package", req.Name, "version", req.Version)
	if err := i.preflight(req); err != nil {
		return types.InstalledEntry{}, err
	}
	if err := i.checkOwnership(req); err != nil {
		return types.InstalledEntry{}, err
	}

	started := time.Now().UTC()
	j, err := i.begin(opInstall, req.Name, req.Version, started)
	if err != nil {
		return types.InstalledEntry{}, ErrInstall{Package: req.Name, Err: err, RolledBack: true}
	}

	for _, rec := range req.Files {
		e, err := j.backup(i.target(rec.Path), rec.Path, rec.Kind)
		if err != nil {
			j.discard()
			return types.InstalledEntry{}, ErrInstall{Package: req.Name, Path: rec.Path, Err: err, RolledBack: true}
		}
		j.m.Entries = append(j.m.Entries, e)
	}
	if err := j.save(); err != nil {
		j.discard()
		return types.InstalledEntry{}, ErrInstall{Package: req.Name, Err: err, RolledBack: true}
	}
	l.Debug("Backups taken", "entries", len(j.m.Entries), "journal", j.dir)

	for n, rec := range req.Files {
		if err := ctx.Err(); err != nil {
			return types.InstalledEntry{}, i.abortInstall(j, n, req.Name, rec.Path, err)
		}
		if i.fault != nil {
			if err := i.fault(rec.Path); err != nil {
				return types.InstalledEntry{}, i.abortInstall(j, n, req.Name, rec.Path, err)
			}
		}
		if err := place(req.Source, i.target(rec.Path), rec); err != nil {
			return types.InstalledEntry{}, i.abortInstall(j, n+1, req.Name, rec.Path, err)
		}
	}

	prev, hadPrev, err := i.ledger.Get(req.Name)
	if err != nil {
		return types.InstalledEntry{}, i.abortInstall(j, len(req.Files), req.Name, "", err)
	}
	entry := types.InstalledEntry{
		Name:        req.Name,
		Version:     req.Version,
		Hash:        req.Hash,
		Artifact:    req.Artifact,
		Degraded:    req.Degraded,
		InstalledAt: started,
	}
	for _, rec := range req.Files {
		entry.Files = append(entry.Files, rec.Path)
	}
	if err := i.ledger.Put(entry); err != nil {
		return types.InstalledEntry{}, i.abortInstall(j, len(req.Files), req.Name, "", err)
	}
	if err := j.discard(); err != nil {
		l.Warn("Could not discard journal", "journal", j.dir, "error", err)
	}

	if hadPrev {
		i.removeObsolete(prev, entry)
	}
	l.Info("Installed package", "files", len(entry.Files))
	return entry, nil
}

// abortInstall undoes the first n entries.  The journal is kept when
// that fails so that Recover can try again.
func (i *Installer) abortInstall(j *journal, n int, pkg, path string, err error) error {
	if n > len(j.m.Entries) {
		n = len(j.m.Entries)
	}
	i.l.Error("Install failed, rolling back", "package", pkg, "path", path, "error", err)
	rbErr := i.rollback(j, j.m.Entries[:n])
	if rbErr == nil {
		j.discard()
	}
	return ErrInstall{Package: pkg, Path: path, Err: err, RolledBack: rbErr == nil, RollbackErr: rbErr}
}

func (i *Installer) preflight(req Request) error {
	var size uint64
	for _, rec := range req.Files {
		if rec.Kind == types.KindFile && rec.Size > 0 {
			size += uint64(rec.Size)
		}
	}
	need := uint64(float64(size) * i.spaceFactor)
	if need == 0 {
		return nil
	}
	free, err := i.freeSpace(i.root)
	if err != nil {
		return err
	}
	if free < need {
		return ErrInsufficientSpace{Path: i.root, Need: need, Free: free}
	}
	return nil
}

// checkOwnership refuses to overwrite files other packages own.
// Directories are shared freely.
func (i *Installer) checkOwnership(req Request) error {
	owners, err := i.ledger.Owners()
	if err != nil {
		return err
	}
	conflicts := make(map[string]string)
	for _, rec := range req.Files {
		if rec.Kind == types.KindDir {
			continue
		}
		if o, ok := owners[rec.Path]; ok && o != req.Name {
			conflicts[rec.Path] = o
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	if req.Force {
		i.l.Warn("Overwriting files owned by other packages", "package", req.Name, "count", len(conflicts))
		return nil
	}
	return NewErrFileConflict(req.Name, conflicts)
}

// removeObsolete drops files an upgrade no longer ships.
func (i *Installer) removeObsolete(prev, cur types.InstalledEntry) {
	keep := make(map[string]struct{}, len(cur.Files))
	for _, p := range cur.Files {
		keep[p] = struct{}{}
	}
	owners, err := i.ledger.Owners()
	if err != nil {
		i.l.Warn("Skipping cleanup of obsolete files", "package", cur.Name, "error", err)
		return
	}
	dirs := dirsOf(prev.Files)
	var stale []string
	for _, p := range prev.Files {
		if _, ok := keep[p]; ok {
			continue
		}
		if dirs[p] && linkedDir(i.target(p)) {
			continue
		}
		if o, ok := owners[p]; ok && o != cur.Name {
			continue
		}
		stale = append(stale, p)
	}
	deepestFirst(stale)
	for _, p := range stale {
		if err := removeOne(i.target(p)); err != nil {
			i.l.Warn("Could not remove obsolete file", "path", p, "error", err)
		}
	}
	i.prune(stale)
}

// Remove deletes the files of name and drops it from the ledger.
func (i *Installer) Remove(ctx context.Context, name string) error {
	entry, ok, err := i.ledger.Get(name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInstalled{Package: name}
	}
	l := i.l.With("package", name, "version", entry.Version)

	paths := append([]string(nil), entry.Files...)
	deepestFirst(paths)

	j, err := i.begin(opRemove, name, entry.Version, time.Now().UTC())
	if err != nil {
		return ErrRemove{Package: name, Err: err, RolledBack: true}
	}
	dirs := dirsOf(paths)
	for _, p := range paths {
		if dirs[p] && linkedDir(i.target(p)) {
			l.Debug("Leaving linked directory in place", "path", p)
			continue
		}
		e, err := j.backup(i.target(p), p, "")
		if err != nil {
			j.discard()
			return ErrRemove{Package: name, Path: p, Err: err, RolledBack: true}
		}
		if e.Existed {
			j.m.Entries = append(j.m.Entries, e)
		}
	}
	if err := j.save(); err != nil {
		j.discard()
		return ErrRemove{Package: name, Err: err, RolledBack: true}
	}

	for n, e := range j.m.Entries {
		if err := ctx.Err(); err != nil {
			return i.abortRemove(j, n, name, e.Path, err)
		}
		if i.fault != nil {
			if err := i.fault(e.Path); err != nil {
				return i.abortRemove(j, n, name, e.Path, err)
			}
		}
		if err := removeOne(i.target(e.Path)); err != nil {
			return i.abortRemove(j, n+1, name, e.Path, err)
		}
	}
	if err := i.ledger.Delete(name); err != nil {
		return i.abortRemove(j, len(j.m.Entries), name, "", err)
	}
	if err := j.discard(); err != nil {
		l.Warn("Could not discard journal", "journal", j.dir, "error", err)
	}
	i.prune(paths)
	l.Info("Removed package", "files", len(paths))
	return nil
}

func (i *Installer) abortRemove(j *journal, n int, pkg, path string, err error) error {
	if n > len(j.m.Entries) {
		n = len(j.m.Entries)
	}
	i.l.Error("Remove failed, restoring", "package", pkg, "path", path, "error", err)
	rbErr := i.rollback(j, j.m.Entries[:n])
	if rbErr == nil {
		j.discard()
	}
	return ErrRemove{Package: pkg, Path: path, Err: err, RolledBack: rbErr == nil, RollbackErr: rbErr}
}

// removeOne deletes a file or an empty directory.  Directories still
// holding something are left in place.
func removeOne(target string) error {
	err := os.Remove(target)
	switch {
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return nil
	case isNotEmpty(err):
		return nil
	}
	return err
}

// prune removes directories left empty above the given paths,
// deepest first, without ever leaving the root.
func (i *Installer) prune(paths []string) {
	root := filepath.Clean(i.root)
	seen := make(map[string]struct{})
	var dirs []string
	for _, p := range paths {
		for d := filepath.Dir(i.target(p)); d != root && len(d) > len(root); d = filepath.Dir(d) {
			if _, ok := seen[d]; ok {
				break
			}
			seen[d] = struct{}{}
			dirs = append(dirs, d)
		}
	}
	sort.Slice(dirs, func(a, b int) bool {
		if da, db := depth(dirs[a]), depth(dirs[b]); da != db {
			return da > db
		}
		return dirs[a] > dirs[b]
	})
	for _, d := range dirs {
		if fi, err := os.Lstat(d); err != nil || !fi.IsDir() {
			continue
		}
		if err := os.Remove(d); err == nil {
			i.l.Trace("Pruned empty directory", "path", d)
		}
	}
}

// deepestFirst orders paths so that children precede their parents.
func deepestFirst(paths []string) {
	sort.Slice(paths, func(a, b int) bool {
		if da, db := depth(paths[a]), depth(paths[b]); da != db {
			return da > db
		}
		return paths[a] > paths[b]
	})
}
