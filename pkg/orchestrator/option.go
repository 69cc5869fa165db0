package orchestrator

import (
	"github.com/hashicorp/go-hclog"
)

// WithLogger sets the parent logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *Orchestrator) {
		o.l = l.Named("orchestrator")
	}
}

// WithGraph sets the dependency graph.
func WithGraph(g Graph) Option {
	return func(o *Orchestrator) {
		o.graph = g
	}
}

// WithDescriptors sets where descriptors are loaded from.
func WithDescriptors(d Descriptors) Option {
	return func(o *Orchestrator) {
		o.ports = d
	}
}

// WithBuilder sets the build pipeline.
func WithBuilder(b Builder) Option {
	return func(o *Orchestrator) {
		o.builder = b
	}
}

// WithInstaller sets the installer.
func WithInstaller(i Installer) Option {
	return func(o *Orchestrator) {
		o.installer = i
	}
}

// WithLedger sets the installed package database.
func WithLedger(lg Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = lg
	}
}
