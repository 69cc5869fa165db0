// Package ledger records which packages are installed and which
// files belong to them.
package ledger

import (
	"encoding/json"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/statefile"
	"github.com/the-maldridge/nport/pkg/types"
)

const formatVersion = 1

// Ledger is the installed package database.  It is a single JSON
// document that is re-read on every access so that concurrent nport
// processes see each other's changes.
type Ledger struct {
	l    hclog.Logger
	path string
}

type document struct {
	Version  int
	Packages map[string]types.InstalledEntry
}

// New returns a ledger stored at path.
func New(l hclog.Logger, path string) *Ledger {
	return &Ledger{l: l.Named("ledger"), path: path}
}

// Path is the file the ledger is stored in.
func (lg *Ledger) Path() string {
	return lg.path
}

func decode(b []byte) (*document, error) {
	doc := &document{Version: formatVersion, Packages: make(map[string]types.InstalledEntry)}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, err
	}
	if doc.Packages == nil {
		doc.Packages = make(map[string]types.InstalledEntry)
	}
	return doc, nil
}

func (lg *Ledger) load() (*document, error) {
	b, err := statefile.Read(lg.path)
	if err != nil {
		return nil, err
	}
	return decode(b)
}

func (lg *Ledger) update(fn func(*document) error) error {
	return statefile.Update(lg.path, 0644, func(b []byte) ([]byte, error) {
		doc, err := decode(b)
		if err != nil {
			return nil, err
		}
		if err := fn(doc); err != nil {
			return nil, err
		}
		doc.Version = formatVersion
		return json.MarshalIndent(doc, "", "  ")
	})
}

// Get returns the entry of name.
func (lg *Ledger) Get(name string) (types.InstalledEntry, bool, error) {
	doc, err := lg.load()
	if err != nil {
		return types.InstalledEntry{}, false, err
	}
	e, ok := doc.Packages[name]
	return e, ok, nil
}

// Installed reports whether name is in the ledger.  Read errors count
// as not installed.
func (lg *Ledger) Installed(name string) bool {
	_, ok, err := lg.Get(name)
	if err != nil {
		lg.l.Warn("Ledger unreadable", "error", err)
	}
	return ok
}

// List returns every entry sorted by name.
func (lg *Ledger) List() ([]types.InstalledEntry, error) {
	doc, err := lg.load()
	if err != nil {
		return nil, err
	}
	out := make([]types.InstalledEntry, 0, len(doc.Packages))
	for _, e := range doc.Packages {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Owners maps every recorded path to the package that installed it.
// Directories may be shared, only the first owner in name order is
// reported for them.
func (lg *Ledger) Owners() (map[string]string, error) {
	entries, err := lg.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, e := range entries {
		for _, f := range e.Files {
			if _, taken := out[f]; !taken {
				out[f] = e.Name
			}
		}
	}
	return out, nil
}

// Put records e, replacing any previous entry of the same name.
func (lg *Ledger) Put(e types.InstalledEntry) error {
	err := lg.update(func(doc *document) error {
		doc.Packages[e.Name] = e
		return nil
	})
	if err == nil {
		lg.l.Debug("Recorded package", "package", e.Name, "version", e.Version, "files", len(e.Files))
	}
	return err
}

// Delete drops the entry of name.
func (lg *Ledger) Delete(name string) error {
	return lg.update(func(doc *document) error {
		delete(doc.Packages, name)
		return nil
	})
}
