package graph

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/types"
)

// Meta is the free-form metadata stored for a node.
type Meta map[string]string

// Well known metadata keys.
const (
	MetaVersion     = "version"
	MetaCategory    = "category"
	MetaPortfile    = "portfile"
	MetaDescription = "description"
	MetaBuildSystem = "build_system"
)

// Graph is a dependency graph of ports.  Edges point from a package
// to the packages it requires.  Targets of edges are not required to
// exist as nodes, dangling references are reported by Missing and
// fail resolution when they are reached.
type Graph struct {
	mu sync.Mutex

	l hclog.Logger

	order []string
	nodes map[string]Meta
	edges map[string][]types.Requirement

	// virtual maps a provided name to the package providing it.
	virtual map[string]string

	// reverse is built on demand and dropped on every mutation.
	reverse map[string][]string

	rev string
}

// An Edge is a requirement together with the package that declares
// it.
type Edge struct {
	From string `json:"from"`
	types.Requirement
}

// A Requester is one package constraining a dependency.
type Requester struct {
	Package    string `json:"package"`
	Constraint string `json:"constraint"`
}

// ConflictKind says why a set of constraints cannot be met together.
type ConflictKind string

// Kinds of conflict reported by DetectConflicts.
const (
	ConflictEquality ConflictKind = "equality"
	ConflictRange    ConflictKind = "range"
)

// A Conflict lists every requester constraining Dependency when the
// constraints admit no common version.
type Conflict struct {
	Dependency string       `json:"dependency"`
	Kind       ConflictKind `json:"kind"`
	Requesters []Requester  `json:"requesters"`
}

// Atom is the serialized form of a graph.
type Atom struct {
	Rev     string                         `json:"rev,omitempty"`
	Nodes   []NodeEntry                    `json:"nodes"`
	Edges   map[string][]types.Requirement `json:"edges"`
	Virtual map[string]string              `json:"virtual,omitempty"`
}

// NodeEntry is a node of an Atom.  Nodes are a list rather than a map
// so that insertion order survives a round trip.
type NodeEntry struct {
	Name string `json:"name"`
	Meta Meta   `json:"meta"`
}

// Manager owns the persisted graph of a ports tree and keeps it in
// step with the tree's checkout.
type Manager struct {
	l hclog.Logger

	cm          CheckoutManager
	graph       *Graph
	statePath   string
	portsDir    string
	ref         string
	parallelism int
}

// CheckoutManager handles a git checkout
type CheckoutManager interface {
	Bootstrap() error
	Fetch() error
	Resolve(string) (string, error)
	Checkout(string) ([]string, error)
	At() (string, error)
}

// Option configures a Manager.
type Option func(*Manager)
