package graph

// InstallOrder returns the targets and everything they transitively
// require, dependencies before dependents.  Optional requirements are
// followed only when includeOptional is set, and are silently
// dropped if their target is unknown.  Among packages that become
// ready together the one discovered first during the walk from the
// targets comes first, so the result is stable for a given graph.
func (g *Graph) InstallOrder(targets []string, includeOptional bool) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	closure, err := g.closure(targets, includeOptional)
	if err != nil {
		return nil, err
	}
	return g.kahn(closure, includeOptional)
}

// closure walks depth first from the targets and returns every
// reachable package in discovery order.
func (g *Graph) closure(targets []string, includeOptional bool) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	var visit func(name, from string) error
	visit = func(name, from string) error {
		if seen[name] {
			return nil
		}
		if _, ok := g.nodes[name]; !ok {
			return ErrUnknownPackage{Name: name, RequiredBy: from}
		}
		seen[name] = true
		out = append(out, name)
		for _, r := range g.edges[name] {
			if r.Optional && !includeOptional {
				continue
			}
			t := g.resolve(r.Name)
			if _, ok := g.nodes[t]; !ok {
				if r.Optional {
					g.l.Debug("Skipping unknown optional dependency", "package", name, "dependency", r.Name)
					continue
				}
				return ErrUnknownPackage{Name: r.Name, RequiredBy: name}
			}
			if err := visit(t, name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, t := range targets {
		if err := visit(g.resolve(t), ""); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// kahn orders exactly the given set.  Each package counts the
// prerequisites it still waits on; a package is emitted once that
// count drops to zero, which releases its dependents.
func (g *Graph) kahn(set []string, includeOptional bool) ([]string, error) {
	in := make(map[string]bool, len(set))
	for _, n := range set {
		in[n] = true
	}

	remaining := make(map[string]int, len(set))
	dependents := make(map[string][]string, len(set))
	for _, n := range set {
		for _, r := range g.edges[n] {
			if r.Optional && !includeOptional {
				continue
			}
			t := g.resolve(r.Name)
			if !in[t] {
				continue
			}
			remaining[n]++
			dependents[t] = append(dependents[t], n)
		}
	}

	queue := make([]string, 0, len(set))
	for _, n := range set {
		if remaining[n] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]string, 0, len(set))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			remaining[d]--
			if remaining[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) < len(set) {
		cycle := g.findCycle(set, includeOptional)
		g.l.Debug("Ordering failed", "ordered", len(order), "wanted", len(set), "cycle", cycle)
		return nil, ErrCycle{Cycle: cycle}
	}
	return order, nil
}

// FindCycle returns one cycle among subset as a path that starts and
// ends on the same package, or nil if there is none.  A nil subset
// searches the whole graph.
func (g *Graph) FindCycle(subset []string, includeOptional bool) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if subset == nil {
		subset = g.order
	}
	return g.findCycle(subset, includeOptional)
}

func (g *Graph) findCycle(subset []string, includeOptional bool) []string {
	in := make(map[string]bool, len(subset))
	for _, n := range subset {
		in[n] = true
	}
	done := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var dfs func(string) []string
	dfs = func(n string) []string {
		onStack[n] = true
		path = append(path, n)
		for _, r := range g.edges[n] {
			if r.Optional && !includeOptional {
				continue
			}
			t := g.resolve(r.Name)
			if !in[t] {
				continue
			}
			if onStack[t] {
				for i := range path {
					if path[i] == t {
						cycle := append([]string(nil), path[i:]...)
						return append(cycle, t)
					}
				}
			}
			if done[t] {
				continue
			}
			if c := dfs(t); c != nil {
				return c
			}
		}
		onStack[n] = false
		done[n] = true
		path = path[:len(path)-1]
		return nil
	}

	for _, n := range subset {
		if done[n] {
			continue
		}
		if c := dfs(n); c != nil {
			return c
		}
	}
	return nil
}

// UninstallOrder returns the targets and every package that
// transitively depends on them, dependents first.
func (g *Graph) UninstallOrder(targets []string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]bool)
	var affected []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			affected = append(affected, n)
		}
	}
	for _, t := range targets {
		t = g.resolve(t)
		if _, ok := g.nodes[t]; !ok {
			return nil, NewErrUnknownPackage(t)
		}
		add(t)
		for _, r := range g.reverseDeps(t, true) {
			add(r)
		}
	}

	order, err := g.kahn(affected, true)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}
