package sandbox

import (
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// InstallDir is where the sandbox directory appears inside the
// namespace layer.
const InstallDir = "/install"

// Options configure Create.
type Options struct {
	BuildRoot string

	Namespace        bool
	RequireNamespace bool
	Fakeroot         bool
	RequireFakeroot  bool
	BwrapBin         string
	FakerootBin      string
	ShareNet         bool

	// ReadOnlyBinds are host paths visible read-only inside the
	// namespace.  Paths that do not exist are left out.
	ReadOnlyBinds []string

	// Timeout bounds each command, zero means no limit.
	Timeout time.Duration

	// Force discards an existing build directory.
	Force bool

	// Env is added to the environment of every command.
	Env map[string]string

	// Output receives a copy of every line commands print.
	Output io.Writer

	// LookPath finds layer tools, exec.LookPath when nil.
	LookPath func(string) (string, error)
}

// A Sandbox is the working area of one build: a sources directory
// the build runs in and a sandbox directory that stands in for the
// root filesystem during staging installs.
type Sandbox struct {
	l hclog.Logger

	BuildDir   string
	Dir        string
	SourcesDir string

	// Reused is set when Create found the directories from an
	// earlier run and kept them.
	Reused bool

	layers   []Layer
	isolated bool
	shareNet bool
	roBinds  []string
	timeout  time.Duration
	env      map[string]string

	outMu  sync.Mutex
	output io.Writer
}

// A Layer wraps a command line in another program.
type Layer interface {
	Name() string
	Wrap(argv []string, c Command) []string
}

// Command is a structured command.  Args are executed directly
// unless Shell is set, in which case Script is handed to sh -c.
type Command struct {
	Args   []string
	Shell  bool
	Script string

	// Dir is the working directory, the sources directory when
	// empty.
	Dir   string
	Env   map[string]string
	Stdin io.Reader
}

// Result describes a finished command.
type Result struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}
