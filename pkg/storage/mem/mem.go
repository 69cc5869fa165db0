// Package mem provides a process local store.  It backs the stage
// cache when persistence is not wanted and stands in for bitcask in
// tests.
package mem

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/storage"
)

type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("memory", func(hclog.Logger, string) (storage.Storage, error) {
		return New(), nil
	})
}

// New returns an empty store.
func New() storage.Storage {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(k []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[string(k)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memStore) Put(k, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[string(k)] = append([]byte(nil), v...)
	return nil
}

func (s *memStore) Del(k []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(k))
	return nil
}

func (s *memStore) Close() error {
	return nil
}
