package storage

import (
	"github.com/hashicorp/go-hclog"
)

var (
	log hclog.Logger

	initcallbacks []func()

	factories map[string]Factory
)

// A Factory creates a store instance rooted at the given path.
// Backends that keep nothing on disk ignore the path.
type Factory func(l hclog.Logger, path string) (Storage, error)

func init() {
	factories = make(map[string]Factory)
	log = hclog.L()
}

// SetLogger injects a logger into this package to allow setting up a
// logger tree.
func SetLogger(l hclog.Logger) {
	log = l
}

// RegisterFactory registers a factory to the list of available state stores
// that can be used.
func RegisterFactory(s string, f Factory) {
	if _, exists := factories[s]; exists {
		log.Warn("Store name collision", "store", s)
		return
	}
	factories[s] = f
	log.Debug("Registered store", "store", s)
}

// RegisterCallback provides a mechanism for early registration of a
// function to be called during initialization.  This allows the
// actual factories to be registered later once config parsing has
// happened, logging is configured, and other early-init tasks are
// complete.
func RegisterCallback(f func()) {
	initcallbacks = append(initcallbacks, f)
}

// DoCallbacks is used to invoke all callbacks and perform phase one
// setup which will register the handlers to the map of factories.
func DoCallbacks() {
	for _, cb := range initcallbacks {
		cb()
	}
}

// Initialize attempts to initialize the given store at path and
// returns either a ready to use store or an error.
func Initialize(s, path string) (Storage, error) {
	f, ok := factories[s]
	if !ok {
		log.Error("Non-existent factory requested", "factory", s)
		return nil, NewErrUnknownStore(s)
	}
	return f(log, path)
}

// ErrUnknownStore is returned when a store is requested that has not
// been registered.
type ErrUnknownStore struct {
	attempted string
}

// NewErrUnknownStore returns a new error specialized to the attempted
// store.
func NewErrUnknownStore(s string) ErrUnknownStore {
	return ErrUnknownStore{s}
}

func (e ErrUnknownStore) Error() string {
	return "no store factory with name " + e.attempted + " exists"
}
