package graph

import (
	"github.com/hashicorp/go-hclog"
)

// WithLogger sets up the logging instance for the graph manager.
func WithLogger(l hclog.Logger) Option {
	return func(m *Manager) {
		m.l = l.Named("graph")
	}
}

// WithStatePath sets the file the graph is persisted to.  Without it
// the graph lives only in memory.
func WithStatePath(p string) Option {
	return func(m *Manager) {
		m.statePath = p
	}
}

// WithPortsDir points the manager at the ports tree.
func WithPortsDir(d string) Option {
	return func(m *Manager) {
		m.portsDir = d
	}
}

// WithCheckout provides the git checkout of the ports tree used by
// Sync, and the ref Sync moves it to.
func WithCheckout(cm CheckoutManager, ref string) Option {
	return func(m *Manager) {
		m.cm = cm
		m.ref = ref
	}
}

// WithParallelism bounds the number of portfiles parsed at once.
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}
