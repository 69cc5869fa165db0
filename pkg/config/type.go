package config

import (
	"time"
)

// Config represents the complete application configuration that
// nport supports.
type Config struct {
	Paths   Paths   `koanf:"paths"`
	Sandbox Sandbox `koanf:"sandbox"`
	Build   Build   `koanf:"build"`
	Fetch   Fetch   `koanf:"fetch"`
	Install Install `koanf:"install"`
	Sync    Sync    `koanf:"sync"`
	Cache   Cache   `koanf:"cache"`

	LogLevel string `koanf:"log_level"`
	Bind     string `koanf:"bind"`
}

// Paths are the directories nport reads from and writes to.
type Paths struct {
	Ports     string `koanf:"ports"`
	BuildRoot string `koanf:"build_root"`
	Distfiles string `koanf:"distfiles"`
	Packages  string `koanf:"packages"`
	Logs      string `koanf:"logs"`
	State     string `koanf:"state"`
	Root      string `koanf:"root"`
	Toolchain string `koanf:"toolchain"`
}

// Sandbox controls the isolation layers wrapped around build
// commands.
type Sandbox struct {
	Namespace        bool     `koanf:"namespace"`
	RequireNamespace bool     `koanf:"require_namespace"`
	Fakeroot         bool     `koanf:"fakeroot"`
	RequireFakeroot  bool     `koanf:"require_fakeroot"`
	BwrapBin         string   `koanf:"bwrap"`
	FakerootBin      string   `koanf:"fakeroot_bin"`
	ShareNet         bool     `koanf:"share_net"`
	ReadOnlyBinds    []string `koanf:"ro_binds"`
	Skip             []string `koanf:"skip"`
	FileMode         string   `koanf:"file_mode"`
	DirMode          string   `koanf:"dir_mode"`
}

// Build tunes the pipeline.
type Build struct {
	Jobs     int               `koanf:"jobs"`
	Timeout  time.Duration     `koanf:"timeout"`
	Keep     bool              `koanf:"keep"`
	Optional bool              `koanf:"optional"`
	Env      map[string]string `koanf:"env"`
}

// Fetch tunes source downloads.
type Fetch struct {
	Retries int           `koanf:"retries"`
	Backoff time.Duration `koanf:"backoff"`
	Timeout time.Duration `koanf:"timeout"`
}

// Install tunes the transactional installer.
type Install struct {
	SpaceFactor float64 `koanf:"space_factor"`
}

// Sync names the git remote of the ports tree.
type Sync struct {
	URL string `koanf:"url"`
	Ref string `koanf:"ref"`
}

// Cache selects the storage backend of the stage cache.
type Cache struct {
	Backend string `koanf:"backend"`
}
