package build

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/the-maldridge/nport/pkg/types"
)

// environ is the environment every command of desc starts from:
// configured variables, then the port's own, then the toolchain
// search paths.
func (p *Pipeline) environ(desc *types.PackageDescriptor) map[string]string {
	env := map[string]string{
		"PREFIX":    p.prefix,
		"PKGNAME":   desc.Name,
		"VERSION":   desc.Version,
		"MAKEFLAGS": "-j" + strconv.Itoa(max(p.jobs, 1)),
	}
	for k, v := range p.env {
		env[k] = v
	}
	for k, v := range desc.Env {
		env[k] = v
	}
	for k, v := range toolchainEnv(p.toolchainDir(), env, os.Getenv) {
		env[k] = v
	}
	return env
}

// toolchainDir returns the toolchain directory if one is configured
// and present.
func (p *Pipeline) toolchainDir() string {
	if p.toolchain == "" {
		return ""
	}
	if fi, err := os.Stat(p.toolchain); err != nil || !fi.IsDir() {
		return ""
	}
	return p.toolchain
}

// toolchainEnv prepends the toolchain's directories to the search
// paths.  Values already in env win over the process environment.
func toolchainEnv(dir string, env map[string]string, getenv func(string) string) map[string]string {
	if dir == "" {
		return nil
	}
	lookup := func(k string) string {
		if v, ok := env[k]; ok {
			return v
		}
		return getenv(k)
	}
	prepend := func(k, p string) string {
		if cur := lookup(k); cur != "" {
			return p + string(os.PathListSeparator) + cur
		}
		return p
	}
	return map[string]string{
		"PATH":            prepend("PATH", filepath.Join(dir, "bin")),
		"LD_LIBRARY_PATH": prepend("LD_LIBRARY_PATH", filepath.Join(dir, "lib")),
		"PKG_CONFIG_PATH": prepend("PKG_CONFIG_PATH", filepath.Join(dir, "lib", "pkgconfig")),
	}
}
