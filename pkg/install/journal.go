package install

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/the-maldridge/nport/pkg/statefile"
	"github.com/the-maldridge/nport/pkg/types"
)

const manifestFile = "manifest.json"

func (i *Installer) begin(op journalOp, pkg, version string, started time.Time) (*journal, error) {
	j := &journal{
		dir: filepath.Join(i.journal, fmt.Sprintf("%s-%s-%d", op, pkg, started.UnixNano())),
		m: manifest{
			Op:      op,
			Package: pkg,
			Version: version,
			Started: started,
		},
	}
	if err := os.MkdirAll(j.data(), 0700); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *journal) data() string {
	return filepath.Join(j.dir, "data")
}

func (j *journal) save() error {
	b, err := json.MarshalIndent(j.m, "", "  ")
	if err != nil {
		return err
	}
	return statefile.WriteAtomic(filepath.Join(j.dir, manifestFile), b, 0600)
}

func (j *journal) discard() error {
	return os.RemoveAll(j.dir)
}

// backup records the state of target, which lives at path on the
// installed system, before it is replaced by an entry of kind
// replacement.  An empty replacement means the path is going away.
func (j *journal) backup(target, path string, replacement types.FileKind) (backupEntry, error) {
	fi, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return backupEntry{Path: path}, nil
	}
	if err != nil {
		return backupEntry{}, err
	}

	e := record(path, fi)
	switch e.Kind {
	case types.KindSymlink:
		if e.Link, err = os.Readlink(target); err != nil {
			return e, err
		}
	case types.KindDir:
		if replacement == types.KindDir || replacement == "" {
			return e, nil
		}
		fallthrough
	default:
		e.Data = filepath.FromSlash(path)
		dst := filepath.Join(j.data(), e.Data)
		if err := copyOut(target, dst); err != nil {
			return e, err
		}
		if e.Kind == types.KindDir {
			if err := fixDirs(target, dst); err != nil {
				return e, err
			}
		}
	}
	return e, nil
}

// restore puts path back the way entry recorded it.
func (i *Installer) restore(dataDir string, e backupEntry) error {
	target := i.target(e.Path)
	fi, err := os.Lstat(target)
	present := err == nil

	if !e.Existed {
		if !present {
			return nil
		}
		err := os.Remove(target)
		if err != nil && fi.IsDir() && isNotEmpty(err) {
			i.l.Warn("Directory created by transaction is not empty, leaving it", "path", target)
			return nil
		}
		return err
	}

	if e.Kind == types.KindDir && e.Data == "" {
		if present && !fi.IsDir() {
			if err := os.Remove(target); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return err
		}
		return setMeta(target, e.Kind, e.Mode, e.UID, e.GID, e.ModTime)
	}

	if present && e.Kind == types.KindSymlink && fi.Mode()&os.ModeSymlink != 0 {
		if cur, err := os.Readlink(target); err == nil && cur == e.Link {
			return nil
		}
	}
	if present {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if e.Kind == types.KindSymlink {
		if err := os.Symlink(e.Link, target); err != nil {
			return err
		}
		return setMeta(target, e.Kind, 0, e.UID, e.GID, e.ModTime)
	}
	src := filepath.Join(dataDir, e.Data)
	if err := copyOut(src, target); err != nil {
		return err
	}
	if e.Kind == types.KindDir {
		return fixDirs(src, target)
	}
	return nil
}

// rollback restores entries in reverse order and reports every
// failure.
func (i *Installer) rollback(j *journal, entries []backupEntry) error {
	var errs []error
	for n := len(entries) - 1; n >= 0; n-- {
		if err := i.restore(j.data(), entries[n]); err != nil {
			i.l.Error("Could not restore path", "path", entries[n].Path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", entries[n].Path, err))
		}
	}
	return errors.Join(errs...)
}

// Recover finishes journals left behind by an interrupted run.
// Operations that reached the ledger are kept, everything else is
// rolled back.  The affected package names are returned.
func (i *Installer) Recover() ([]string, error) {
	ents, err := os.ReadDir(i.journal)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(ents, func(a, b int) bool { return ents[a].Name() < ents[b].Name() })

	var out []string
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		j := &journal{dir: filepath.Join(i.journal, ent.Name())}
		b, err := os.ReadFile(filepath.Join(j.dir, manifestFile))
		if errors.Is(err, fs.ErrNotExist) {
			// Interrupted before the live root was touched.
			j.discard()
			continue
		}
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(b, &j.m); err != nil {
			return out, fmt.Errorf("journal %s: %w", ent.Name(), err)
		}

		committed, err := i.committed(j.m)
		if err != nil {
			return out, err
		}
		if committed {
			i.l.Info("Discarding journal of completed operation", "package", j.m.Package, "op", j.m.Op)
		} else {
			i.l.Warn("Rolling back interrupted operation", "package", j.m.Package, "op", j.m.Op)
			if err := i.rollback(j, j.m.Entries); err != nil {
				return out, ErrInstall{Package: j.m.Package, Err: errors.New("recovery incomplete"), RollbackErr: err}
			}
		}
		if err := j.discard(); err != nil {
			return out, err
		}
		out = append(out, j.m.Package)
	}
	return out, nil
}

func (i *Installer) committed(m manifest) (bool, error) {
	e, ok, err := i.ledger.Get(m.Package)
	if err != nil {
		return false, err
	}
	if m.Op == opRemove {
		return !ok, nil
	}
	return ok && e.Version == m.Version && e.InstalledAt.Equal(m.Started), nil
}
