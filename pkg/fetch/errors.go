package fetch

import (
	"fmt"
	"strings"
)

// ErrChecksum is returned when a file does not match its declared
// digest.
type ErrChecksum struct {
	File string
	Want string
	Got  string
}

func (e ErrChecksum) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.File, e.Want, e.Got)
}

// ErrFetch is returned when no location of a source could be
// retrieved.
type ErrFetch struct {
	URLs []string
	Err  error
}

func (e ErrFetch) Error() string {
	return fmt.Sprintf("could not fetch %s: %v", strings.Join(e.URLs, ", "), e.Err)
}

func (e ErrFetch) Unwrap() error {
	return e.Err
}

// ErrStatus is an unsuccessful HTTP response.
type ErrStatus struct {
	URL  string
	Code int
}

func (e ErrStatus) Error() string {
	return fmt.Sprintf("%s: server returned %d", e.URL, e.Code)
}

// ErrBadChecksum is returned for a checksum that cannot be parsed.
type ErrBadChecksum struct {
	Checksum string
}

func (e ErrBadChecksum) Error() string {
	return fmt.Sprintf("unrecognized checksum %q", e.Checksum)
}
