package types

import (
	"os"
	"time"
)

// A PackageDescriptor is a port as read in from the ports tree.  It
// is immutable once loaded; everything downstream works from copies
// of its fields.
type PackageDescriptor struct {
	Name        string
	Version     string
	Category    string
	Description string

	Requires  []Requirement
	Provides  []string
	Conflicts []string

	BuildSystem   BuildSystem
	Sources       []Source
	Patches       []string
	Hooks         map[string][]string
	ConfigureArgs []string
	Env           map[string]string

	BuildCommands   []string
	InstallCommands []string

	// Dir is the directory the descriptor was loaded from.  Patch
	// files and the patches/ directory are resolved against it.
	Dir string
}

// Ref returns the name/version pair of the descriptor.
func (d *PackageDescriptor) Ref() Ref {
	return Ref{Name: d.Name, Version: d.Version}
}

// A Requirement is a single outgoing dependency edge.
type Requirement struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
}

func (r Requirement) String() string {
	return r.Name + r.Constraint
}

// Source is one upstream input of a build.  Exactly one of URL or
// Git is set.
type Source struct {
	URL      string
	Mirrors  []string
	Git      string
	Ref      string
	Checksum string

	// Dest optionally renames the fetched file inside the
	// distfiles directory.
	Dest string
}

// FileKind discriminates the entries of a snapshot.
type FileKind string

// The kinds of filesystem entries that are tracked.
const (
	KindFile    FileKind = "file"
	KindDir     FileKind = "dir"
	KindSymlink FileKind = "symlink"
)

// A FileRecord is the metadata of one entry in a sandbox.  Path is
// absolute and host-rooted, that is it names where the entry will
// live once installed.
type FileRecord struct {
	Path       string
	Kind       FileKind
	LinkTarget string `json:",omitempty"`
	Mode       os.FileMode
	UID        int
	GID        int
	Size       int64
	ModTime    time.Time
}

// InstalledEntry is the ledger's view of one installed package.
type InstalledEntry struct {
	Name        string
	Version     string
	Files       []string
	Hash        string
	Artifact    string `json:",omitempty"`
	Degraded    bool   `json:",omitempty"`
	InstalledAt time.Time
}
