// Package sandbox runs build commands in a per-build working area,
// optionally inside a mount namespace and under simulated root, and
// records what the commands leave behind.
package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// Create allocates <BuildRoot>/<category>/<name>/<version>/ with its
// sandbox and sources directories.  An existing build directory is
// reused unless opts.Force is set.  Layer tools are resolved here so
// that a required but missing tool fails before anything runs.
func Create(l hclog.Logger, opts Options, category, name, version string) (*Sandbox, error) {
	s := &Sandbox{
		l:        l.Named("sandbox").With("package", name, "version", version),
		shareNet: opts.ShareNet,
		timeout:  opts.Timeout,
		env:      opts.Env,
		output:   opts.Output,
	}
	if err := s.resolveLayers(opts); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(opts.BuildRoot)
	if err != nil {
		return nil, err
	}
	s.BuildDir = filepath.Join(root, category, name, version)
	s.Dir = filepath.Join(s.BuildDir, "sandbox")
	s.SourcesDir = filepath.Join(s.BuildDir, "sources")

	if opts.Force {
		if err := removeAll(s.BuildDir); err != nil {
			return nil, err
		}
	}
	s.Reused = isDir(s.Dir) && isDir(s.SourcesDir)

	for _, d := range []string{s.Dir, s.SourcesDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}
	s.l.Debug("Sandbox ready", "path", s.BuildDir, "reused", s.Reused, "isolated", s.isolated)
	return s, nil
}

func (s *Sandbox) resolveLayers(opts Options) error {
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	// Outermost first.
	if opts.Namespace {
		bin, err := lookPath(orDefault(opts.BwrapBin, "bwrap"))
		switch {
		case err == nil:
			s.layers = append(s.layers, &namespaceLayer{s: s, bin: bin})
			s.isolated = true
			for _, p := range opts.ReadOnlyBinds {
				if _, err := os.Stat(p); err == nil {
					s.roBinds = append(s.roBinds, p)
				}
			}
		case opts.RequireNamespace:
			return ErrToolMissing{Layer: "namespace", Tool: orDefault(opts.BwrapBin, "bwrap")}
		default:
			s.l.Warn("Namespace isolation unavailable, build commands run against the host filesystem", "tool", orDefault(opts.BwrapBin, "bwrap"))
		}
	}
	if opts.Fakeroot {
		bin, err := lookPath(orDefault(opts.FakerootBin, "fakeroot"))
		switch {
		case err == nil:
			s.layers = append(s.layers, &ownershipLayer{bin: bin})
		case opts.RequireFakeroot:
			return ErrToolMissing{Layer: "ownership", Tool: orDefault(opts.FakerootBin, "fakeroot")}
		default:
			s.l.Warn("Simulated root unavailable, installed files keep the builder's ownership", "tool", orDefault(opts.FakerootBin, "fakeroot"))
		}
	}
	return nil
}

// Degraded reports that commands run without the namespace layer.
func (s *Sandbox) Degraded() bool {
	return !s.isolated
}

// Layers names the active layers, outermost first.
func (s *Sandbox) Layers() []string {
	out := make([]string, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.Name()
	}
	return out
}

// DestDir is the staging destination as seen by build commands.
func (s *Sandbox) DestDir() string {
	if s.isolated {
		return InstallDir
	}
	return s.Dir
}

// Clean empties the sandbox directory.
func (s *Sandbox) Clean() error {
	ents, err := os.ReadDir(s.Dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if err := removeAll(filepath.Join(s.Dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Destroy removes the whole build directory.
func (s *Sandbox) Destroy() error {
	s.l.Debug("Removing build directory", "path", s.BuildDir)
	return removeAll(s.BuildDir)
}

// removeAll is os.RemoveAll that also copes with directories a build
// left without write permission.
func removeAll(p string) error {
	err := os.RemoveAll(p)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	filepath.WalkDir(p, func(path string, de os.DirEntry, err error) error {
		if err == nil && de.IsDir() {
			os.Chmod(path, 0755)
		}
		return nil
	})
	return os.RemoveAll(p)
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
