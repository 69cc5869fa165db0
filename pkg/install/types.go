package install

import (
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/types"
)

// Ledger is the installed package database the installer keeps up to
// date.
type Ledger interface {
	Get(string) (types.InstalledEntry, bool, error)
	Put(types.InstalledEntry) error
	Delete(string) error
	Owners() (map[string]string, error)
}

// Installer copies staged files onto the live root and removes them
// again, restoring the previous state when anything goes wrong.
type Installer struct {
	l hclog.Logger

	root        string
	ledger      Ledger
	journal     string
	spaceFactor float64

	// freeSpace reports the bytes available to unprivileged users
	// on the filesystem holding path.
	freeSpace func(path string) (uint64, error)

	// fault, when set, is consulted before each entry is written
	// and can fail the operation.
	fault func(path string) error
}

// Option configures an Installer.
type Option func(*Installer)

// Request describes a package to install.
type Request struct {
	Name    string
	Version string

	// Source is the directory the staged files are read from.
	Source string
	Files  []types.FileRecord

	Hash     string
	Artifact string
	Degraded bool

	// Force overwrites files owned by other packages.
	Force bool
}

// journalOp is the kind of operation a journal belongs to.
type journalOp string

const (
	opInstall journalOp = "install"
	opRemove  journalOp = "remove"
)

// A manifest is written before the live root is touched and removed
// once the operation is committed.  It is what Recover uses to put
// things back after an interrupted run.
type manifest struct {
	Op      journalOp
	Package string
	Version string
	Started time.Time
	Entries []backupEntry
}

// backupEntry is the prior state of one path.
type backupEntry struct {
	Path    string
	Existed bool
	Kind    types.FileKind `json:",omitempty"`
	Mode    os.FileMode    `json:",omitempty"`
	UID     int            `json:",omitempty"`
	GID     int            `json:",omitempty"`
	ModTime time.Time      `json:",omitempty"`
	Link    string         `json:",omitempty"`

	// Data is the saved content relative to the journal's data
	// directory.  Directories that only need their metadata
	// restored have none.
	Data string `json:",omitempty"`
}

// journal is a manifest together with where it lives.
type journal struct {
	dir string
	m   manifest
}
