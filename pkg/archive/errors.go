package archive

import "fmt"

// ErrUnsafePath is returned for archive members that would land
// outside the extraction directory.
type ErrUnsafePath struct {
	Archive string
	Member  string
}

func (e ErrUnsafePath) Error() string {
	return fmt.Sprintf("%s: member %q escapes the destination", e.Archive, e.Member)
}

// ErrNoProps is returned for a package without metadata.
type ErrNoProps struct {
	Path string
}

func (e ErrNoProps) Error() string {
	return fmt.Sprintf("%s: no %s in package", e.Path, PropsFile)
}
