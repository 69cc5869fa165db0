package orchestrator

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/build"
	"github.com/the-maldridge/nport/pkg/graph"
	"github.com/the-maldridge/nport/pkg/install"
	"github.com/the-maldridge/nport/pkg/types"
)

// Graph answers ordering and consistency questions about the ports
// tree.  *graph.Graph satisfies it.
type Graph interface {
	InstallOrder([]string, bool) ([]string, error)
	UninstallOrder([]string) ([]string, error)
	DetectConflicts([]string) []graph.Conflict
	Validate([]string) error
	ReverseDependencies(string, bool) []string
	Resolve(string) string
	Has(string) bool
	Node(string) (graph.Meta, bool)
}

// Descriptors loads the descriptor of a port.
type Descriptors interface {
	Descriptor(string) (*types.PackageDescriptor, error)
}

// Builder runs the build pipeline.
type Builder interface {
	Build(context.Context, *types.PackageDescriptor, build.Options) (*build.Transaction, error)
}

// Installer applies built packages to the live system.
type Installer interface {
	Install(context.Context, install.Request) (types.InstalledEntry, error)
	Remove(context.Context, string) error
}

// Ledger is the installed package database.
type Ledger interface {
	Get(string) (types.InstalledEntry, bool, error)
	List() ([]types.InstalledEntry, error)
}

// Orchestrator drives packages through build and install one at a
// time, in dependency order.
type Orchestrator struct {
	l hclog.Logger

	graph     Graph
	ports     Descriptors
	builder   Builder
	installer Installer
	ledger    Ledger

	// One operation at a time touches the live system.
	busy sync.Mutex

	lastMu sync.Mutex
	last   *Result
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// BuildOptions tune Build.
type BuildOptions struct {
	// Force rebuilds and reinstalls every package in the chain,
	// installed or not, and ignores cached build stages.
	Force bool

	// ForceConflicts proceeds despite version conflicts and lets
	// packages overwrite files owned by others.
	ForceConflicts bool

	// Keep preserves build directories.
	Keep bool

	// IncludeOptional builds optional dependencies too.
	IncludeOptional bool
}

// Result is the outcome of Build.
type Result struct {
	Target    string
	Order     []string
	Succeeded []string
	Skipped   []string

	// Failed is the package that stopped the run, if any.
	Failed     string      `json:",omitempty"`
	Stage      types.Stage `json:",omitempty"`
	Err        error       `json:"-"`
	Error      string      `json:",omitempty"`
	RolledBack bool        `json:",omitempty"`
}

// RemoveOptions tune Remove.
type RemoveOptions struct {
	// Force removes packages that installed packages still
	// depend on.
	Force bool

	// Recursive removes installed dependents first.
	Recursive bool
}

// RemoveResult is the outcome of Remove.
type RemoveResult struct {
	Order      []string
	Removed    []string
	Failed     string `json:",omitempty"`
	Err        error  `json:"-"`
	Error      string `json:",omitempty"`
	RolledBack bool   `json:",omitempty"`
}

// Outdated is an installed package with a newer port available.
type Outdated struct {
	Name      string
	Installed string
	Available string
}

// PlanEntry is one step of a planned build.
type PlanEntry struct {
	Name      string
	Installed bool
	Version   string `json:",omitempty"`
}
