package build

import (
	"fmt"

	"github.com/the-maldridge/nport/pkg/types"
)

// ErrStage is returned when a pipeline stage fails.
type ErrStage struct {
	Package string
	Stage   types.Stage
	Err     error
}

// NewErrStage wraps err with the package and stage it occurred in.
func NewErrStage(pkg string, s types.Stage, err error) ErrStage {
	return ErrStage{Package: pkg, Stage: s, Err: err}
}

func (e ErrStage) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Package, e.Stage, e.Err)
}

func (e ErrStage) Unwrap() error {
	return e.Err
}

// ErrNoHandler is returned for a build system nothing is registered
// for.
type ErrNoHandler struct {
	System types.BuildSystem
}

func (e ErrNoHandler) Error() string {
	return "no handler for build system " + string(e.System)
}
