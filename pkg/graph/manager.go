package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/portfile"
	"github.com/the-maldridge/nport/pkg/statefile"
	"github.com/the-maldridge/nport/pkg/types"
)

// NewManager creates a manager with an empty graph.  Nothing is read
// from disk until Load or Bootstrap is called.
func NewManager(l hclog.Logger, opts ...Option) *Manager {
	x := Manager{
		l:           l.Named("graph"),
		parallelism: 10,
	}
	for _, o := range opts {
		o(&x)
	}
	x.graph = New(x.l)
	return &x
}

// Graph returns the managed graph.
func (m *Manager) Graph() *Graph {
	return m.graph
}

// Load replaces the in-memory graph with the persisted one.  A
// missing state file leaves the graph empty.
func (m *Manager) Load() error {
	if m.statePath == "" {
		return nil
	}
	b, err := statefile.Read(m.statePath)
	if err != nil {
		return err
	}
	return m.decode(b)
}

func (m *Manager) decode(b []byte) error {
	if b == nil {
		m.l.Debug("No persisted graph", "path", m.statePath)
		return nil
	}
	var a Atom
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("decoding %s: %w", m.statePath, err)
	}
	m.graph.Import(a)
	m.l.Debug("Loaded graph", "count", len(a.Nodes), "rev", a.Rev)
	return nil
}

// Save persists the graph under the state file's lock.
func (m *Manager) Save() error {
	if m.statePath == "" {
		return nil
	}
	return statefile.Update(m.statePath, 0644, func([]byte) ([]byte, error) {
		return m.encode()
	})
}

func (m *Manager) encode() ([]byte, error) {
	return json.MarshalIndent(m.graph.Export(), "", "  ")
}

// update holds the state file's lock while fn reworks the graph.  The
// graph is reloaded from disk first and written back when fn
// succeeds, so concurrent processes never overwrite each other's
// imports.
func (m *Manager) update(fn func() error) error {
	if m.statePath == "" {
		return fn()
	}
	lk, err := statefile.Acquire(m.statePath)
	if err != nil {
		return err
	}
	defer lk.Release()

	b, err := os.ReadFile(m.statePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := m.decode(b); err != nil {
		m.l.Warn("Discarding unreadable graph state", "error", err)
		m.graph.Import(Atom{})
	}
	if err := fn(); err != nil {
		return err
	}
	out, err := m.encode()
	if err != nil {
		return err
	}
	return statefile.WriteAtomic(m.statePath, out, 0644)
}

// Bootstrap loads the persisted graph and re-imports the ports tree
// when it has changed since the graph was built, or when reimport is
// set.
func (m *Manager) Bootstrap(reimport bool) error {
	return m.update(func() error {
		rev, err := m.treeRevision()
		if err != nil {
			m.l.Error("Error reading ports tree", "path", m.portsDir, "error", err)
			return err
		}
		if !reimport && m.graph.Len() > 0 && m.graph.Rev() == rev {
			m.l.Debug("Graph is current", "rev", rev)
			return nil
		}

		m.l.Info("Importing ports tree", "path", m.portsDir)
		if err := m.ImportAll(); err != nil {
			return err
		}
		m.graph.SetRev(rev)
		return nil
	})
}

// Sync moves the ports checkout to the configured ref and imports the
// ports that changed.  The changed paths are returned.  The checkout
// happens under the graph's lock so that the tree and the graph
// always move together.
func (m *Manager) Sync() ([]string, error) {
	if m.cm == nil {
		return nil, errors.New("no ports checkout configured")
	}
	var changed []string
	err := m.update(func() error {
		if err := m.cm.Bootstrap(); err != nil {
			m.l.Error("Error bootstrapping", "error", err)
			return err
		}
		if err := m.cm.Fetch(); err != nil {
			m.l.Error("Error fetching", "error", err)
			return err
		}
		hash, err := m.cm.Resolve(m.ref)
		if err != nil {
			m.l.Error("Error resolving ref", "ref", m.ref, "error", err)
			return err
		}
		changed, err = m.cm.Checkout(hash)
		if err != nil {
			m.l.Error("Error updating checkout", "error", err)
			return err
		}

		if m.graph.Len() == 0 {
			err = m.ImportAll()
		} else {
			err = m.ImportChanged(changed)
		}
		if err != nil {
			return err
		}

		rev, err := m.treeRevision()
		if err != nil {
			return err
		}
		m.graph.SetRev(rev)
		m.l.Info("Synced", "commit", hash, "changed", len(changed))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// Descriptor loads the portfile behind a package of the graph.
func (m *Manager) Descriptor(name string) (*types.PackageDescriptor, error) {
	name = m.graph.Resolve(name)
	meta, ok := m.graph.Node(name)
	if !ok {
		return nil, NewErrUnknownPackage(name)
	}
	p := meta[MetaPortfile]
	if p == "" {
		found, err := portfile.Find(m.portsDir, name)
		if err != nil {
			return nil, err
		}
		p = found
	}
	return portfile.Load(p)
}

// treeRevision fingerprints the set of portfiles and their mtimes, so
// that local edits invalidate the graph as well as commits do.
func (m *Manager) treeRevision() (string, error) {
	paths, err := portfile.Walk(m.portsDir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(h, "%s %d %d\n", p, fi.Size(), fi.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
