package storage

// Storage is an interface for a generic blobstore.  Get returns a nil
// value and no error for a key that is not present.
type Storage interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Del([]byte) error

	Close() error
}
