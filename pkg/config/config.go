package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.  Nested keys are
// separated by a double underscore, NPORT_PATHS__BUILD_ROOT sets
// paths.build_root.
const EnvPrefix = "NPORT_"

// SystemFile is the system wide configuration file.
const SystemFile = "/etc/nport/config.yaml"

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"paths.ports":      "/usr/ports",
		"paths.build_root": "/var/tmp/nport/build",
		"paths.distfiles":  "/var/cache/nport/distfiles",
		"paths.packages":   "/var/cache/nport/packages",
		"paths.logs":       "/var/log/nport",
		"paths.state":      "/var/lib/nport",
		"paths.root":       "/",
		"paths.toolchain":  "/mnt/tools",

		"sandbox.namespace":         true,
		"sandbox.require_namespace": false,
		"sandbox.fakeroot":          true,
		"sandbox.require_fakeroot":  false,
		"sandbox.bwrap":             "bwrap",
		"sandbox.fakeroot_bin":      "fakeroot",
		"sandbox.share_net":         true,
		"sandbox.ro_binds":          []string{"/usr", "/lib", "/lib64", "/bin", "/sbin", "/etc"},
		"sandbox.skip":              []string{"/usr/share/info/dir", "**/*.la"},
		"sandbox.file_mode":         "0644",
		"sandbox.dir_mode":          "0755",

		"build.jobs":     runtime.NumCPU(),
		"build.timeout":  "2h",
		"build.keep":     false,
		"build.optional": false,

		"fetch.retries": 3,
		"fetch.backoff": "2s",
		"fetch.timeout": "10m",

		"install.space_factor": 2.0,

		"sync.url": "",
		"sync.ref": "main",

		"cache.backend": "bitcask",

		"log_level": "INFO",
		"bind":      ":8080",
	}
}

// NewConfig returns a config object with the defaults applied.
func NewConfig() *Config {
	c, err := load(nil, nil)
	if err != nil {
		// The defaults are static, failing to decode them is
		// a programming error.
		panic(err)
	}
	return c
}

// DefaultFiles lists the configuration files consulted when none are
// given explicitly: the system file, then the user's.
func DefaultFiles() []string {
	files := []string{SystemFile}
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, "nport", "config.yaml"))
	}
	return files
}

// Load layers the defaults, each existing file in order, and finally
// the environment.  Files that do not exist are skipped.
func Load(files ...string) (*Config, error) {
	return load(files, env.Provider(EnvPrefix, ".", envKey))
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func load(files []string, environ koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := k.Load(file.Provider(f), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", f, err)
		}
	}

	if environ != nil {
		if err := k.Load(environ, nil); err != nil {
			return nil, fmt.Errorf("failed to load env vars: %w", err)
		}
	}

	var cfg Config
	uc := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, uc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the rest of the program cannot work
// with.
func (c *Config) Validate() error {
	if c.Build.Jobs < 1 {
		return fmt.Errorf("build.jobs must be at least 1, got %d", c.Build.Jobs)
	}
	if c.Install.SpaceFactor < 1 {
		return fmt.Errorf("install.space_factor must be at least 1, got %v", c.Install.SpaceFactor)
	}
	if _, err := parseMode(c.Sandbox.FileMode); err != nil {
		return fmt.Errorf("sandbox.file_mode: %w", err)
	}
	if _, err := parseMode(c.Sandbox.DirMode); err != nil {
		return fmt.Errorf("sandbox.dir_mode: %w", err)
	}
	if c.Paths.Root == "" || !filepath.IsAbs(c.Paths.Root) {
		return fmt.Errorf("paths.root must be absolute, got %q", c.Paths.Root)
	}
	return nil
}

// DefaultFileMode is the default permission of regular files in packages.
func (s Sandbox) DefaultFileMode() os.FileMode {
	m, _ := parseMode(s.FileMode)
	return m
}

// DefaultDirMode is the default permission of directories in packages.
func (s Sandbox) DefaultDirMode() os.FileMode {
	m, _ := parseMode(s.DirMode)
	return m
}

func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	if v > 0o7777 {
		return 0, fmt.Errorf("mode %s out of range", s)
	}
	return os.FileMode(v), nil
}

// GraphState is the file the dependency graph is persisted to.
func (p Paths) GraphState() string {
	return filepath.Join(p.State, "graph.json")
}

// Ledger is the installed-package ledger.
func (p Paths) Ledger() string {
	return filepath.Join(p.State, "installed.json")
}

// Journal is the directory open install transactions are recorded
// in.
func (p Paths) Journal() string {
	return filepath.Join(p.State, "journal")
}

// CacheDir holds the stage cache database.
func (p Paths) CacheDir() string {
	return filepath.Join(p.State, "cache")
}
