package orchestrator

import (
	"strings"
)

// ErrDependents is returned when removing a package that installed
// packages still require.
type ErrDependents struct {
	Package    string
	Dependents []string
}

// NewErrDependents returns an ErrDependents for pkg.
func NewErrDependents(pkg string, deps []string) ErrDependents {
	return ErrDependents{Package: pkg, Dependents: deps}
}

func (e ErrDependents) Error() string {
	return e.Package + " is required by installed packages: " + strings.Join(e.Dependents, ", ")
}

// ErrConflict is returned when a package declares a conflict with
// something already installed.
type ErrConflict struct {
	Package   string
	Installed []string
}

// NewErrConflict returns an ErrConflict for pkg.
func NewErrConflict(pkg string, installed []string) ErrConflict {
	return ErrConflict{Package: pkg, Installed: installed}
}

func (e ErrConflict) Error() string {
	return e.Package + " conflicts with installed packages: " + strings.Join(e.Installed, ", ")
}

// ErrMisconfigured is returned when a required collaborator was not
// provided.
type ErrMisconfigured struct {
	Missing string
}

func (e ErrMisconfigured) Error() string {
	return "orchestrator has no " + e.Missing
}
