package graph

import (
	"fmt"
	"strings"
)

// ErrCycle is returned when the requested packages cannot be
// ordered.  Cycle starts and ends on the same package.
type ErrCycle struct {
	Cycle []string
}

func (e ErrCycle) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// ErrUnknownPackage is returned when a target, or a required
// dependency reached from one, is not in the graph.
type ErrUnknownPackage struct {
	Name       string
	RequiredBy string
}

// NewErrUnknownPackage returns an error for a package asked for
// directly.
func NewErrUnknownPackage(name string) ErrUnknownPackage {
	return ErrUnknownPackage{Name: name}
}

func (e ErrUnknownPackage) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("unknown package %s (required by %s)", e.Name, e.RequiredBy)
	}
	return "unknown package " + e.Name
}

// ErrConflict carries every conflict found in a resolution.
type ErrConflict struct {
	Conflicts []Conflict
}

func (e ErrConflict) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		reqs := make([]string, 0, len(c.Requesters))
		for _, r := range c.Requesters {
			reqs = append(reqs, r.Package+" wants "+r.Constraint)
		}
		parts = append(parts, fmt.Sprintf("%s (%s): %s", c.Dependency, c.Kind, strings.Join(reqs, ", ")))
	}
	return "version conflict: " + strings.Join(parts, "; ")
}

// ErrUnsatisfiable is returned when the single available version of
// a dependency does not meet a requester's constraint.
type ErrUnsatisfiable struct {
	Package    string
	Version    string
	Requester  string
	Constraint string
}

func (e ErrUnsatisfiable) Error() string {
	return fmt.Sprintf("%s requires %s%s but %s is available", e.Requester, e.Package, e.Constraint, e.Version)
}
