package graph

import (
	"github.com/the-maldridge/nport/pkg/version"
)

// DetectConflicts groups the constraints that the packages in subset
// place on each dependency and reports the dependencies whose
// constraints cannot all hold.  Two different exact pins are an
// equality conflict; constraints whose ranges do not intersect are a
// range conflict.  A nil subset considers every package.
func (g *Graph) DetectConflicts(subset []string) []Conflict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if subset == nil {
		subset = g.order
	}

	var deps []string
	byDep := make(map[string][]Requester)
	for _, pkg := range subset {
		for _, r := range g.edges[pkg] {
			if r.Constraint == "" {
				continue
			}
			t := g.resolve(r.Name)
			if _, ok := byDep[t]; !ok {
				deps = append(deps, t)
			}
			byDep[t] = append(byDep[t], Requester{Package: pkg, Constraint: r.Constraint})
		}
	}

	var out []Conflict
	for _, dep := range deps {
		reqs := byDep[dep]
		if len(reqs) < 2 {
			continue
		}

		var pins []string
		var parsed []version.Constraint
		for _, r := range reqs {
			c, err := version.Parse(r.Constraint)
			if err != nil {
				g.l.Warn("Ignoring unparsable constraint", "package", r.Package, "dependency", dep, "error", err)
				continue
			}
			parsed = append(parsed, c)
			if v, ok := c.Pinned(); ok && !containsVersion(pins, v) {
				pins = append(pins, v)
			}
		}

		switch {
		case len(pins) > 1:
			out = append(out, Conflict{Dependency: dep, Kind: ConflictEquality, Requesters: reqs})
		case !version.Compatible(parsed...):
			out = append(out, Conflict{Dependency: dep, Kind: ConflictRange, Requesters: reqs})
		}
	}
	return out
}

func containsVersion(list []string, v string) bool {
	for _, x := range list {
		if version.Compare(x, v) == 0 {
			return true
		}
	}
	return false
}

// Validate checks every requirement between members of set against
// the version recorded for its target.  Packages without a recorded
// version are accepted.
func (g *Graph) Validate(set []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	in := make(map[string]bool, len(set))
	for _, n := range set {
		in[n] = true
	}
	for _, pkg := range set {
		for _, r := range g.edges[pkg] {
			t := g.resolve(r.Name)
			if !in[t] || r.Constraint == "" {
				continue
			}
			c, err := version.Parse(r.Constraint)
			if err != nil {
				return err
			}
			v := g.nodes[t][MetaVersion]
			if !c.Satisfies(v) {
				return ErrUnsatisfiable{
					Package:    t,
					Version:    v,
					Requester:  pkg,
					Constraint: r.Constraint,
				}
			}
		}
	}
	return nil
}
