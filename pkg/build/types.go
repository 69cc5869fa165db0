package build

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/fetch"
	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/storage"
	"github.com/the-maldridge/nport/pkg/types"
)

// Fetcher retrieves the sources of a port.
type Fetcher interface {
	Fetch(context.Context, []types.Source) ([]fetch.Artifact, error)
}

// Pipeline turns a descriptor into a staged file set and a binary
// package.
type Pipeline struct {
	l hclog.Logger

	fetcher Fetcher
	cache   storage.Storage

	sandbox   sandbox.Options
	jobs      int
	prefix    string
	env       map[string]string
	toolchain string
	skip      []string
	fileMode  os.FileMode
	dirMode   os.FileMode
	pkgDir    string
	logDir    string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// Options tune a single build.
type Options struct {
	// Force ignores cached stage fingerprints and discards any
	// existing build directory.
	Force bool

	// Keep preserves the build directory when the transaction is
	// closed.
	Keep bool
}

// A Transaction is one run of the pipeline for one package.  The
// staged files stay in place until Close so that the installer can
// copy them.
type Transaction struct {
	Desc    *types.PackageDescriptor
	Sandbox *sandbox.Sandbox

	// Stage is the stage that is running, or the last one that ran.
	Stage types.Stage

	// Skipped lists the stages whose cached result was reused.
	Skipped []types.Stage

	Sources []fetch.Artifact
	SrcDir  string
	System  types.BuildSystem

	// Files are the staged entries, relative to Root with a
	// leading slash.
	Files    []types.FileRecord
	Artifact string
	Hash     string
	Degraded bool

	keep bool
	log  *os.File
}

// Job is what a Handler needs to produce its commands.
type Job struct {
	Desc    *types.PackageDescriptor
	SrcDir  string
	DestDir string
	Prefix  string
	Jobs    int
}

// A Handler knows how to drive one build system.
type Handler interface {
	Configure(Job) []sandbox.Command
	Compile(Job) []sandbox.Command
	Install(Job) []sandbox.Command
}
