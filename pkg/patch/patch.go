// Package patch locates the patches of a port and applies them to
// its source tree.
package patch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/types"
)

// Dir is the conventional location of patches inside a port.
const Dir = "patches"

// Runner executes commands, normally a *sandbox.Sandbox.
type Runner interface {
	Run(context.Context, sandbox.Command) (sandbox.Result, error)
}

// ErrPatch is returned when a patch does not apply.
type ErrPatch struct {
	Patch string
	Err   error
}

func (e ErrPatch) Error() string {
	return fmt.Sprintf("patch %s failed to apply: %v", filepath.Base(e.Patch), e.Err)
}

func (e ErrPatch) Unwrap() error {
	return e.Err
}

// Find returns the patches of desc in application order.  Declared
// patches are resolved against the port directory and then its
// patches directory.  Without declarations every *.patch and *.diff
// in the patches directory is used in lexical order.
func Find(desc *types.PackageDescriptor) ([]string, error) {
	if len(desc.Patches) > 0 {
		out := make([]string, 0, len(desc.Patches))
		for _, p := range desc.Patches {
			path, err := resolve(desc.Dir, p)
			if err != nil {
				return nil, err
			}
			out = append(out, path)
		}
		return out, nil
	}
	if desc.Dir == "" {
		return nil, nil
	}

	var out []string
	for _, pat := range []string{"*.patch", "*.diff"} {
		m, err := filepath.Glob(filepath.Join(desc.Dir, Dir, pat))
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	sort.Strings(out)
	return out, nil
}

func resolve(dir, p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, stat(p)
	}
	for _, c := range []string{filepath.Join(dir, p), filepath.Join(dir, Dir, p)} {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("patch %s: %w", p, os.ErrNotExist)
}

func stat(p string) error {
	_, err := os.Stat(p)
	return err
}

// Apply feeds each patch to patch(1) in dir.  Patches already applied
// are skipped by patch itself.
func Apply(ctx context.Context, l hclog.Logger, r Runner, dir string, patches []string) error {
	l = l.Named("patch")
	for _, p := range patches {
		f, err := os.Open(p)
		if err != nil {
			return ErrPatch{Patch: p, Err: err}
		}
		c := sandbox.Exec("patch", "-p1", "--forward", "--batch")
		c.Dir = dir
		c.Stdin = f
		_, err = r.Run(ctx, c)
		f.Close()
		if err != nil {
			return ErrPatch{Patch: p, Err: err}
		}
		l.Info("Applied patch", "patch", filepath.Base(p))
	}
	return nil
}
