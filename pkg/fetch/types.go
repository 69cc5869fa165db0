package fetch

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Fetcher retrieves build inputs into the distfiles directory.
type Fetcher struct {
	l hclog.Logger

	dir     string
	client  *http.Client
	retries int
	backoff time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// Artifact is one fetched input.
type Artifact struct {
	// Path is the downloaded file, or the worktree for a git
	// source.
	Path string

	// Git is set when Path is a repository worktree.
	Git    bool
	Commit string `json:",omitempty"`

	// Cached reports that nothing had to be downloaded.
	Cached bool
}
