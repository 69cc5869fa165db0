package graph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/the-maldridge/nport/pkg/types"
)

// Export returns a detached copy of the graph's state.
func (g *Graph) Export() Atom {
	g.mu.Lock()
	defer g.mu.Unlock()

	a := Atom{
		Rev:     g.rev,
		Nodes:   make([]NodeEntry, 0, len(g.order)),
		Edges:   make(map[string][]types.Requirement, len(g.edges)),
		Virtual: make(map[string]string, len(g.virtual)),
	}
	for _, n := range g.order {
		m := make(Meta, len(g.nodes[n]))
		for k, v := range g.nodes[n] {
			m[k] = v
		}
		a.Nodes = append(a.Nodes, NodeEntry{Name: n, Meta: m})
	}
	for pkg, reqs := range g.edges {
		if len(reqs) == 0 {
			continue
		}
		a.Edges[pkg] = append([]types.Requirement(nil), reqs...)
	}
	for k, v := range g.virtual {
		a.Virtual[k] = v
	}
	return a
}

// Import replaces the graph's state with the atom's.
func (g *Graph) Import(a Atom) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.order = nil
	g.nodes = make(map[string]Meta, len(a.Nodes))
	g.edges = make(map[string][]types.Requirement, len(a.Edges))
	g.virtual = make(map[string]string, len(a.Virtual))
	g.reverse = nil
	g.rev = a.Rev

	for _, n := range a.Nodes {
		g.addNode(n.Name, n.Meta)
	}
	// Edge sources are visited in node order so that the result
	// does not depend on map iteration.
	for _, n := range g.order {
		for _, r := range a.Edges[n] {
			g.addEdge(n, r)
		}
	}
	for pkg, reqs := range a.Edges {
		if _, ok := g.nodes[pkg]; ok {
			continue
		}
		for _, r := range reqs {
			g.addEdge(pkg, r)
		}
	}
	for k, v := range a.Virtual {
		g.virtual[k] = v
	}
}

// MarshalJSON encodes the graph as its Atom.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Export())
}

// UnmarshalJSON replaces the graph with the decoded Atom.
func (g *Graph) UnmarshalJSON(b []byte) error {
	var a Atom
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	g.Import(a)
	return nil
}

// DOT renders the graph for graphviz.  Optional edges are dashed.
func (g *Graph) DOT(includeOptional bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("digraph dependency_graph {\n  rankdir=LR;\n")
	for _, n := range g.order {
		label := n
		if v := g.nodes[n][MetaVersion]; v != "" {
			label = n + `\n` + v
		}
		fmt.Fprintf(&sb, "  %q [label=\"%s\"];\n", n, label)
	}
	for _, n := range g.order {
		for _, r := range g.edges[n] {
			if r.Optional && !includeOptional {
				continue
			}
			style := "solid"
			if r.Optional {
				style = "dashed"
			}
			fmt.Fprintf(&sb, "  %q -> %q [label=%q, style=%q];\n", n, r.Name, r.Constraint, style)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
