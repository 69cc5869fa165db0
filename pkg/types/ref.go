package types

import (
	"strings"
)

// A Ref names one version of one package.
type Ref struct {
	Name    string
	Version string
}

func (r Ref) String() string {
	return r.Name + "@" + r.Version
}

// RefFromString returns a Ref from its string representation.  A
// string without a version yields an empty Version.
func RefFromString(s string) Ref {
	p := strings.SplitN(s, "@", 2)
	if len(p) == 1 {
		return Ref{Name: p[0]}
	}
	return Ref{p[0], p[1]}
}
