// Package portfile reads port descriptors from the ports tree.
package portfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/the-maldridge/nport/pkg/types"
	"github.com/the-maldridge/nport/pkg/version"
)

// Load parses the portfile at path.
func Load(path string) (*types.PackageDescriptor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse builds a descriptor from the content of a portfile.  path is
// used for error messages and to default the name and category from
// the directory layout <category>/<name>/Portfile.yaml.
func Parse(path string, b []byte) (*types.PackageDescriptor, error) {
	var r raw
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, NewErrInvalidPortfile(path, err.Error())
	}

	dir := filepath.Dir(path)
	d := &types.PackageDescriptor{
		Name:            r.Name,
		Version:         r.Version,
		Category:        r.Category,
		Description:     r.Description,
		Provides:        r.Provides,
		Conflicts:       r.Conflicts,
		BuildSystem:     types.ParseBuildSystem(r.BuildSystem),
		Patches:         r.Patches,
		ConfigureArgs:   r.ConfigureArgs,
		Env:             r.Env,
		BuildCommands:   r.Build,
		InstallCommands: r.Install,
		Dir:             dir,
	}
	if d.Name == "" {
		d.Name = filepath.Base(dir)
	}
	if d.Version == "" {
		d.Version = r.Pkgver
	}
	if d.Version == "" {
		return nil, NewErrInvalidPortfile(path, "version is required")
	}
	if d.Category == "" {
		d.Category = filepath.Base(filepath.Dir(dir))
		if d.Category == "." || d.Category == string(filepath.Separator) {
			d.Category = "misc"
		}
	}

	for _, dep := range r.Depends {
		req, err := requirement(dep)
		if err != nil {
			return nil, NewErrInvalidPortfile(path, err.Error())
		}
		if req.Name == d.Name {
			return nil, NewErrInvalidPortfile(path, "port depends on itself")
		}
		d.Requires = append(d.Requires, req)
	}

	for _, s := range r.Source {
		src, err := convertSource(s)
		if err != nil {
			return nil, NewErrInvalidPortfile(path, err.Error())
		}
		d.Sources = append(d.Sources, src)
	}
	if r.Checksum != "" && len(d.Sources) == 1 && d.Sources[0].Checksum == "" {
		d.Sources[0].Checksum = r.Checksum
	}

	d.Hooks = make(map[string][]string)
	for name, cmds := range r.Hooks {
		if !knownHook(name) {
			return nil, NewErrInvalidPortfile(path, "unknown hook "+name)
		}
		d.Hooks[name] = append(d.Hooks[name], cmds...)
	}
	if err := loadHookScripts(dir, d.Hooks); err != nil {
		return nil, NewErrInvalidPortfile(path, err.Error())
	}
	return d, nil
}

func requirement(dep dependency) (types.Requirement, error) {
	name, constraint := version.SplitRequirement(dep.Name)
	if c := strings.TrimSpace(dep.Constraint); c != "" {
		constraint = c
	} else if v := strings.TrimSpace(dep.Version); v != "" {
		constraint = v
	}
	if name == "" {
		return types.Requirement{}, errors.New("dependency without a name")
	}
	c, err := version.Parse(constraint)
	if err != nil {
		return types.Requirement{}, err
	}
	return types.Requirement{Name: name, Constraint: c.String(), Optional: dep.Optional}, nil
}

func convertSource(s source) (types.Source, error) {
	out := types.Source{
		Mirrors: s.Mirrors,
		Git:     s.Git,
		Dest:    s.Dest,
	}
	switch {
	case s.Commit != "":
		out.Ref = s.Commit
	case s.Tag != "":
		out.Ref = s.Tag
	default:
		out.Ref = s.Branch
	}
	if len(s.URL) > 0 {
		out.URL = s.URL[0]
		out.Mirrors = append(append([]string{}, s.URL[1:]...), out.Mirrors...)
	}
	if out.URL == "" && out.Git == "" {
		return out, errors.New("source needs a url or a git remote")
	}
	if out.URL != "" && out.Git != "" {
		return out, errors.New("source cannot have both url and git")
	}
	switch {
	case s.Checksum != "":
		out.Checksum = s.Checksum
	case s.Sha256 != "":
		out.Checksum = "sha256:" + s.Sha256
	case s.Sha512 != "":
		out.Checksum = "sha512:" + s.Sha512
	case s.Md5 != "":
		out.Checksum = "md5:" + s.Md5
	}
	return out, nil
}

func knownHook(name string) bool {
	for _, h := range HookNames {
		if h == name {
			return true
		}
	}
	return false
}

// loadHookScripts appends the content of <dir>/hooks/<hook>[.sh] to
// the inline hooks so that both spellings run.
func loadHookScripts(dir string, hooks map[string][]string) error {
	for _, h := range HookNames {
		for _, name := range []string{h, h + ".sh"} {
			b, err := os.ReadFile(filepath.Join(dir, "hooks", name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}
			hooks[h] = append(hooks[h], string(b))
		}
	}
	return nil
}

// Find locates the portfile of the named port.  Ports live either at
// <root>/<category>/<name> or directly at <root>/<name>.
func Find(root, name string) (string, error) {
	candidates, err := filepath.Glob(filepath.Join(root, "*", name, FileName))
	if err != nil {
		return "", err
	}
	direct := filepath.Join(root, name, FileName)
	if _, err := os.Stat(direct); err == nil {
		candidates = append(candidates, direct)
	}
	if len(candidates) == 0 {
		return "", ErrNotFound{name}
	}
	return candidates[0], nil
}

// Walk returns every portfile under root in lexical order.
func Walk(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() && strings.HasPrefix(de.Name(), ".") && p != root {
			return filepath.SkipDir
		}
		if !de.IsDir() && de.Name() == FileName {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}
