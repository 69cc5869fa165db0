package graph

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/the-maldridge/nport/pkg/portfile"
	"github.com/the-maldridge/nport/pkg/types"
)

// ImportAll reads every portfile of the ports tree into a fresh
// graph.
func (m *Manager) ImportAll() error {
	paths, err := portfile.Walk(m.portsDir)
	if err != nil {
		return err
	}
	m.graph.Import(Atom{})
	return m.importFromPaths(paths)
}

// ImportChanged looks at a set of paths relative to the ports tree
// and re-imports just the ports they belong to.  Ports whose portfile
// no longer exists are removed.
func (m *Manager) ImportChanged(changed []string) error {
	seen := make(map[string]bool)
	var load []string
	for _, c := range changed {
		dir := m.portDir(c)
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true

		p := filepath.Join(m.portsDir, dir, portfile.FileName)
		if _, err := os.Lstat(p); err != nil {
			m.dropPortfile(p)
			continue
		}
		load = append(load, p)
	}
	return m.importFromPaths(load)
}

// portDir maps a path inside the tree to the directory of the port it
// belongs to: the path itself for a portfile, otherwise the nearest
// directory above it holding one.  Paths outside any port map to "".
func (m *Manager) portDir(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	if strings.HasPrefix(p, ".") || strings.HasPrefix(p, "/") {
		return ""
	}
	if path.Base(p) == portfile.FileName {
		return path.Dir(p)
	}
	for d := path.Dir(p); d != "."; d = path.Dir(d) {
		if _, err := os.Stat(filepath.Join(m.portsDir, filepath.FromSlash(d), portfile.FileName)); err == nil {
			return d
		}
	}
	return ""
}

func (m *Manager) dropPortfile(p string) {
	for _, n := range m.graph.Nodes() {
		meta, _ := m.graph.Node(n)
		if meta[MetaPortfile] == p {
			m.l.Info("Port removed", "package", n)
			m.graph.RemoveNode(n)
		}
	}
}

// importFromPaths parses portfiles on a pool of workers and then adds
// them to the graph in the order given, which keeps node order
// independent of scheduling.
func (m *Manager) importFromPaths(paths []string) error {
	loaded := make([]*types.PackageDescriptor, len(paths))
	loadCh := make(chan int, 200)
	wg := new(sync.WaitGroup)

	for i := 0; i < m.parallelism; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for idx := range loadCh {
				p := paths[idx]
				m.l.Trace("Loading portfile", "path", p)
				d, err := portfile.Load(p)
				if err != nil {
					m.l.Warn("Error loading port", "path", p, "error", err)
					continue
				}
				loaded[idx] = d
			}
			m.l.Trace("Importer shutting down", "ID", id)
		}(i)
	}
	for i := range paths {
		loadCh <- i
	}
	close(loadCh)
	wg.Wait()

	count := 0
	for i, d := range loaded {
		if d == nil {
			continue
		}
		m.graph.AddPackage(d, paths[i])
		count++
	}
	m.l.Debug("Loaded packages", "count", count, "failed", len(paths)-count)
	return nil
}
