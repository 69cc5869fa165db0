package graph

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/types"
)

// New returns a new blank graph with the logger configured
func New(l hclog.Logger) *Graph {
	return &Graph{
		l:       l.Named("graph"),
		nodes:   make(map[string]Meta),
		edges:   make(map[string][]types.Requirement),
		virtual: make(map[string]string),
	}
}

// AddNode adds the named package, or merges meta into an existing
// node with the incoming values winning.
func (g *Graph) AddNode(name string, meta Meta) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNode(name, meta)
}

func (g *Graph) addNode(name string, meta Meta) {
	cur, ok := g.nodes[name]
	if !ok {
		cur = make(Meta, len(meta))
		g.nodes[name] = cur
		g.order = append(g.order, name)
	}
	for k, v := range meta {
		cur[k] = v
	}
	g.reverse = nil
}

// RemoveNode drops the package, its outgoing edges and every edge
// pointing at it.
func (g *Graph) RemoveNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeNode(name)
}

func (g *Graph) removeNode(name string) {
	if _, ok := g.nodes[name]; !ok {
		return
	}
	delete(g.nodes, name)
	delete(g.edges, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i:i], g.order[i+1:]...)
			break
		}
	}
	for pkg, reqs := range g.edges {
		kept := reqs[:0:0]
		for _, r := range reqs {
			if r.Name != name {
				kept = append(kept, r)
			}
		}
		g.edges[pkg] = kept
	}
	for v, p := range g.virtual {
		if p == name {
			delete(g.virtual, v)
		}
	}
	g.reverse = nil
}

// AddEdge records that pkg requires dep.  A second call for the same
// pair replaces the first in place.  pkg is created if needed, dep is
// not.
func (g *Graph) AddEdge(pkg, dep, constraint string, optional bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdge(pkg, types.Requirement{Name: dep, Constraint: constraint, Optional: optional})
}

func (g *Graph) addEdge(pkg string, req types.Requirement) {
	if _, ok := g.nodes[pkg]; !ok {
		g.addNode(pkg, nil)
	}
	reqs := g.edges[pkg]
	for i := range reqs {
		if reqs[i].Name == req.Name {
			reqs[i] = req
			g.reverse = nil
			return
		}
	}
	g.edges[pkg] = append(reqs, req)
	g.reverse = nil
}

// RemoveEdge drops the requirement of pkg on dep if it exists.
func (g *Graph) RemoveEdge(pkg, dep string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	reqs := g.edges[pkg]
	for i := range reqs {
		if reqs[i].Name == dep {
			g.edges[pkg] = append(reqs[:i:i], reqs[i+1:]...)
			g.reverse = nil
			return
		}
	}
}

// AddVirtual makes edges naming virtual resolve to provider when no
// real package of that name exists.
func (g *Graph) AddVirtual(virtual, provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.virtual[virtual]; ok && cur != provider {
		g.l.Warn("Virtual package has multiple providers", "virtual", virtual, "kept", cur, "ignored", provider)
		return
	}
	g.virtual[virtual] = provider
	g.reverse = nil
}

// AddPackage replaces everything known about the descriptor's package
// with the descriptor's content.  Incoming edges from other packages
// are kept.
func (g *Graph) AddPackage(d *types.PackageDescriptor, portfile string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.addNode(d.Name, Meta{
		MetaVersion:     d.Version,
		MetaCategory:    d.Category,
		MetaPortfile:    portfile,
		MetaDescription: d.Description,
		MetaBuildSystem: string(d.BuildSystem),
	})
	delete(g.edges, d.Name)
	for _, r := range d.Requires {
		g.addEdge(d.Name, r)
	}
	for _, v := range d.Provides {
		if v == d.Name {
			continue
		}
		if cur, ok := g.virtual[v]; ok && cur != d.Name {
			g.l.Warn("Virtual package has multiple providers", "virtual", v, "kept", cur, "ignored", d.Name)
			continue
		}
		g.virtual[v] = d.Name
	}
}

// SetRev records the ports tree revision the graph was built from.
func (g *Graph) SetRev(rev string) {
	g.mu.Lock()
	g.rev = rev
	g.mu.Unlock()
}

// Rev returns the revision set by SetRev.
func (g *Graph) Rev() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rev
}

// Has reports whether a package, real or virtual, resolves.
func (g *Graph) Has(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nodes[g.resolve(name)]
	return ok
}

// Resolve maps a virtual name onto its provider.  Real names are
// returned unchanged.
func (g *Graph) Resolve(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolve(name)
}

func (g *Graph) resolve(name string) string {
	if _, ok := g.nodes[name]; ok {
		return name
	}
	if p, ok := g.virtual[name]; ok {
		return p
	}
	return name
}

// Node returns a copy of the metadata of name.
func (g *Graph) Node(name string) (Meta, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, true
}

// Nodes lists the packages in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// Len is the number of packages in the graph.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// Search returns the packages whose name or description contains
// query, ignoring case, in insertion order.  A non-empty category
// limits the result to that category.
func (g *Graph) Search(query, category string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	q := strings.ToLower(query)
	var out []string
	for _, n := range g.order {
		m := g.nodes[n]
		if category != "" && m[MetaCategory] != category {
			continue
		}
		if strings.Contains(strings.ToLower(n), q) || strings.Contains(strings.ToLower(m[MetaDescription]), q) {
			out = append(out, n)
		}
	}
	return out
}

// Dependencies returns the outgoing requirements of name in
// declaration order.
func (g *Graph) Dependencies(name string) []types.Requirement {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.Requirement(nil), g.edges[name]...)
}

// Missing lists every edge whose target is not a package of the
// graph.
func (g *Graph) Missing() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Edge
	for _, n := range g.order {
		for _, r := range g.edges[n] {
			if _, ok := g.nodes[g.resolve(r.Name)]; !ok {
				out = append(out, Edge{From: n, Requirement: r})
			}
		}
	}
	return out
}

// ReverseDependencies returns the packages that depend on name, in
// breadth first order when recursive is set.
func (g *Graph) ReverseDependencies(name string, recursive bool) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reverseDeps(name, recursive)
}

func (g *Graph) reverseDeps(name string, recursive bool) []string {
	rev := g.reverseIndex()
	if !recursive {
		return append([]string(nil), rev[name]...)
	}

	seen := map[string]bool{name: true}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, parent := range rev[cur] {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			out = append(out, parent)
			queue = append(queue, parent)
		}
	}
	return out
}

func (g *Graph) reverseIndex() map[string][]string {
	if g.reverse != nil {
		return g.reverse
	}
	rev := make(map[string][]string)
	for _, n := range g.order {
		for _, r := range g.edges[n] {
			t := g.resolve(r.Name)
			if !contains(rev[t], n) {
				rev[t] = append(rev[t], n)
			}
		}
	}
	g.reverse = rev
	return rev
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
