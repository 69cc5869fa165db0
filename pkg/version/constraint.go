package version

import (
	"fmt"
	"strings"
)

// Op is a comparison operator of a constraint clause.
type Op string

// Supported operators.
const (
	Eq Op = "=="
	Ne Op = "!="
	Ge Op = ">="
	Le Op = "<="
	Gt Op = ">"
	Lt Op = "<"
)

// ordered longest first so that ">=" is not read as ">".
var ops = []Op{Eq, Ne, Ge, Le, Gt, Lt}

// A Clause is one operator/version pair.
type Clause struct {
	Op      Op
	Version string
}

func (c Clause) String() string {
	return string(c.Op) + c.Version
}

func (c Clause) matches(v string) bool {
	r := Compare(v, c.Version)
	switch c.Op {
	case Eq:
		return r == 0
	case Ne:
		return r != 0
	case Ge:
		return r >= 0
	case Le:
		return r <= 0
	case Gt:
		return r > 0
	case Lt:
		return r < 0
	}
	return false
}

// A Constraint is a conjunction of clauses.  The zero value accepts
// every version.
type Constraint struct {
	Clauses []Clause
}

// ErrInvalidConstraint is returned for expressions that cannot be
// parsed.
type ErrInvalidConstraint struct {
	Expr   string
	Reason string
}

func (e ErrInvalidConstraint) Error() string {
	return fmt.Sprintf("invalid constraint %q: %s", e.Expr, e.Reason)
}

// Parse reads a comma separated list of clauses.  A clause with no
// operator is an exact match, as is a single "=".
func Parse(expr string) (Constraint, error) {
	c := Constraint{}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return c, nil
	}
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Constraint{}, ErrInvalidConstraint{expr, "empty clause"}
		}
		cl := Clause{Op: Eq, Version: part}
		for _, op := range ops {
			if strings.HasPrefix(part, string(op)) {
				cl = Clause{Op: op, Version: strings.TrimSpace(part[len(op):])}
				break
			}
		}
		if cl.Op == Eq && strings.HasPrefix(cl.Version, "=") {
			cl.Version = strings.TrimSpace(strings.TrimPrefix(cl.Version, "="))
		}
		if cl.Version == "" {
			return Constraint{}, ErrInvalidConstraint{expr, "missing version in " + part}
		}
		if strings.ContainsAny(cl.Version, "<>=! ") {
			return Constraint{}, ErrInvalidConstraint{expr, "malformed clause " + part}
		}
		c.Clauses = append(c.Clauses, cl)
	}
	return c, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(expr string) Constraint {
	c, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// Satisfies reports whether v meets every clause.  An unknown
// version (empty string) satisfies anything.
func (c Constraint) Satisfies(v string) bool {
	if v == "" {
		return true
	}
	for _, cl := range c.Clauses {
		if !cl.matches(v) {
			return false
		}
	}
	return true
}

// Pinned returns the version of the constraint's first exact match
// clause, if any.
func (c Constraint) Pinned() (string, bool) {
	for _, cl := range c.Clauses {
		if cl.Op == Eq {
			return cl.Version, true
		}
	}
	return "", false
}

// Empty is true for the constraint that accepts everything.
func (c Constraint) Empty() bool {
	return len(c.Clauses) == 0
}

func (c Constraint) String() string {
	parts := make([]string, len(c.Clauses))
	for i, cl := range c.Clauses {
		parts[i] = cl.String()
	}
	return strings.Join(parts, ",")
}
