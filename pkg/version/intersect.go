package version

type bound struct {
	v         string
	inclusive bool
	set       bool
}

// Compatible reports whether at least one version could satisfy all
// of the given constraints at once.  The version space is treated as
// dense: an open interval between two distinct versions is never
// considered empty.
func Compatible(cs ...Constraint) bool {
	var all []Clause
	for _, c := range cs {
		all = append(all, c.Clauses...)
	}

	// An exact pin collapses the problem to a membership test.
	for _, cl := range all {
		if cl.Op != Eq {
			continue
		}
		for _, other := range all {
			if !other.matches(cl.Version) {
				return false
			}
		}
		return true
	}

	var lo, hi bound
	for _, cl := range all {
		switch cl.Op {
		case Ge, Gt:
			incl := cl.Op == Ge
			if !lo.set {
				lo = bound{cl.Version, incl, true}
				continue
			}
			r := Compare(cl.Version, lo.v)
			if r > 0 || (r == 0 && !incl) {
				lo = bound{cl.Version, incl, true}
			}
		case Le, Lt:
			incl := cl.Op == Le
			if !hi.set {
				hi = bound{cl.Version, incl, true}
				continue
			}
			r := Compare(cl.Version, hi.v)
			if r < 0 || (r == 0 && !incl) {
				hi = bound{cl.Version, incl, true}
			}
		}
	}
	if !lo.set || !hi.set {
		return true
	}

	r := Compare(lo.v, hi.v)
	switch {
	case r > 0:
		return false
	case r < 0:
		return true
	}
	// Bounds meet at a single point.
	if !lo.inclusive || !hi.inclusive {
		return false
	}
	for _, cl := range all {
		if cl.Op == Ne && Compare(cl.Version, lo.v) == 0 {
			return false
		}
	}
	return true
}
