package install

import (
	"fmt"
	"sort"
	"strings"
)

// ErrInsufficientSpace is returned by pre-flight checks before
// anything is written.
type ErrInsufficientSpace struct {
	Path string
	Need uint64
	Free uint64
}

func (e ErrInsufficientSpace) Error() string {
	return fmt.Sprintf("insufficient space on %s: need %d bytes, %d available", e.Path, e.Need, e.Free)
}

// ErrFileConflict is returned when files to be installed belong to
// another package.
type ErrFileConflict struct {
	Package string
	// Owners maps each contested path to its current owner.
	Owners map[string]string
}

// NewErrFileConflict returns a conflict for pkg.
func NewErrFileConflict(pkg string, owners map[string]string) ErrFileConflict {
	return ErrFileConflict{Package: pkg, Owners: owners}
}

func (e ErrFileConflict) Error() string {
	paths := make([]string, 0, len(e.Owners))
	for p := range e.Owners {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	parts := make([]string, 0, len(paths))
	for _, p := range paths {
		parts = append(parts, p+" (owned by "+e.Owners[p]+")")
	}
	return fmt.Sprintf("%s would overwrite files of other packages: %s", e.Package, strings.Join(parts, ", "))
}

// ErrInstall is returned when an install fails after the live root
// was touched.
type ErrInstall struct {
	Package     string
	Path        string
	Err         error
	RolledBack  bool
	RollbackErr error
}

func (e ErrInstall) Error() string {
	msg := fmt.Sprintf("installing %s failed", e.Package)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	msg += ": " + e.Err.Error()
	if e.RolledBack {
		return msg + " (rolled back)"
	}
	return msg + fmt.Sprintf(" (rollback failed: %v)", e.RollbackErr)
}

func (e ErrInstall) Unwrap() error {
	return e.Err
}

// ErrRemove is returned when a removal fails part way.
type ErrRemove struct {
	Package     string
	Path        string
	Err         error
	RolledBack  bool
	RollbackErr error
}

func (e ErrRemove) Error() string {
	msg := fmt.Sprintf("removing %s failed", e.Package)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	msg += ": " + e.Err.Error()
	if e.RolledBack {
		return msg + " (restored)"
	}
	return msg + fmt.Sprintf(" (restore failed: %v)", e.RollbackErr)
}

func (e ErrRemove) Unwrap() error {
	return e.Err
}

// ErrNotInstalled is returned when removing an unknown package.
type ErrNotInstalled struct {
	Package string
}

func (e ErrNotInstalled) Error() string {
	return e.Package + " is not installed"
}
