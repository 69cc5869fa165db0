package portfile

import (
	"fmt"
)

// FileName is the descriptor file every port directory carries.
const FileName = "Portfile.yaml"

// HookNames are the hook points a portfile may attach commands to.
var HookNames = []string{
	"pre_configure",
	"post_configure",
	"pre_build",
	"post_build",
	"check",
	"pre_install",
	"post_install",
}

// raw mirrors the YAML document.  Several keys accept either a
// scalar or a mapping, those are resolved by the custom unmarshalers
// below.
type raw struct {
	Name          string                `yaml:"name"`
	Version       string                `yaml:"version"`
	Pkgver        string                `yaml:"pkgver"`
	Category      string                `yaml:"category"`
	Description   string                `yaml:"description"`
	Depends       []dependency          `yaml:"depends"`
	Provides      []string              `yaml:"provides"`
	Conflicts     []string              `yaml:"conflicts"`
	BuildSystem   string                `yaml:"build_system"`
	Source        sourceList            `yaml:"source"`
	Checksum      string                `yaml:"checksum"`
	Patches       []string              `yaml:"patches"`
	Hooks         map[string]stringList `yaml:"hooks"`
	ConfigureArgs []string              `yaml:"configure_args"`
	Env           map[string]string     `yaml:"env"`
	Build         stringList            `yaml:"build"`
	Install       stringList            `yaml:"install"`
}

type dependency struct {
	Name       string `yaml:"name"`
	Constraint string `yaml:"constraint"`
	Version    string `yaml:"version"`
	Optional   bool   `yaml:"optional"`
}

type source struct {
	URL      stringList `yaml:"url"`
	Mirrors  []string   `yaml:"mirrors"`
	Git      string     `yaml:"git"`
	Branch   string     `yaml:"branch"`
	Tag      string     `yaml:"tag"`
	Commit   string     `yaml:"commit"`
	Checksum string     `yaml:"checksum"`
	Sha256   string     `yaml:"sha256"`
	Sha512   string     `yaml:"sha512"`
	Md5      string     `yaml:"md5"`
	Dest     string     `yaml:"dest"`
}

type sourceList []source

type stringList []string

// ErrInvalidPortfile is returned when a portfile parses but does not
// describe a buildable port.
type ErrInvalidPortfile struct {
	Path   string
	Reason string
}

// NewErrInvalidPortfile returns an error for the file at p.
func NewErrInvalidPortfile(p, reason string) ErrInvalidPortfile {
	return ErrInvalidPortfile{p, reason}
}

func (e ErrInvalidPortfile) Error() string {
	return fmt.Sprintf("invalid portfile %s: %s", e.Path, e.Reason)
}

// ErrNotFound is returned when no port directory carries the
// requested name.
type ErrNotFound struct {
	Name string
}

func (e ErrNotFound) Error() string {
	return "no port named " + e.Name
}
