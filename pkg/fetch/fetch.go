// Package fetch downloads the sources of a port into the distfiles
// cache and verifies them.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/source"
	"github.com/the-maldridge/nport/pkg/types"
)

// New returns a Fetcher that stores files below dir.
func New(l hclog.Logger, dir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		l:       l.Named("fetch"),
		dir:     dir,
		client:  &http.Client{Timeout: 10 * time.Minute},
		retries: 3,
		backoff: 2 * time.Second,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Dir returns the distfiles directory.
func (f *Fetcher) Dir() string {
	return f.dir
}

// FileName is the name a source is stored under.
func FileName(src types.Source) string {
	if src.Dest != "" {
		return src.Dest
	}
	if src.Git != "" {
		return gitName(src.Git)
	}
	u := src.URL
	if p, err := url.Parse(u); err == nil && p.Path != "" {
		u = p.Path
	}
	return path.Base(u)
}

// Fetch retrieves every source in order.
func (f *Fetcher) Fetch(ctx context.Context, srcs []types.Source) ([]Artifact, error) {
	out := make([]Artifact, 0, len(srcs))
	for _, src := range srcs {
		a, err := f.One(ctx, src)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// One retrieves a single source.  A file already in the cache that
// passes its checksum is used as is.
func (f *Fetcher) One(ctx context.Context, src types.Source) (Artifact, error) {
	if src.Git != "" {
		return f.git(ctx, src)
	}

	dest := filepath.Join(f.dir, FileName(src))
	if _, err := os.Stat(dest); err == nil {
		if err := Verify(dest, src.Checksum); err == nil {
			f.l.Debug("Using cached file", "file", dest)
			return Artifact{Path: dest, Cached: true}, nil
		}
		f.l.Warn("Cached file failed verification, fetching again", "file", dest)
		os.Remove(dest)
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return Artifact{}, err
	}

	urls := append([]string{src.URL}, src.Mirrors...)
	var lastErr error
	for _, u := range urls {
		if err := f.retrieve(ctx, u, dest); err != nil {
			if ctx.Err() != nil {
				return Artifact{}, ctx.Err()
			}
			f.l.Warn("Download failed", "url", u, "error", err)
			lastErr = err
			continue
		}
		if err := Verify(dest, src.Checksum); err != nil {
			f.l.Warn("Downloaded file failed verification", "url", u, "error", err)
			os.Remove(dest)
			lastErr = err
			continue
		}
		f.l.Info("Fetched source", "url", u, "file", dest)
		return Artifact{Path: dest}, nil
	}
	return Artifact{}, ErrFetch{URLs: urls, Err: lastErr}
}

func (f *Fetcher) git(ctx context.Context, src types.Source) (Artifact, error) {
	dest := filepath.Join(f.dir, "git", FileName(src))
	var commit string
	op := func() error {
		var err error
		commit, err = source.Mirror(ctx, f.l, src.Git, dest, src.Ref)
		return err
	}
	if err := backoff.RetryNotify(op, f.policy(ctx), f.notify(src.Git)); err != nil {
		return Artifact{}, ErrFetch{URLs: []string{src.Git}, Err: err}
	}
	f.l.Info("Fetched source", "git", src.Git, "commit", commit)
	return Artifact{Path: dest, Git: true, Commit: commit}, nil
}

// retrieve copies one URL to dest through a temporary file so that an
// interrupted download never leaves a truncated file in the cache.
func (f *Fetcher) retrieve(ctx context.Context, u, dest string) error {
	tmp := dest + ".part"
	defer os.Remove(tmp)

	op := func() error {
		return f.download(ctx, u, tmp)
	}
	if err := backoff.RetryNotify(op, f.policy(ctx), f.notify(u)); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

func (f *Fetcher) download(ctx context.Context, u, dest string) error {
	body, err := f.open(ctx, u)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return backoff.Permanent(err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *Fetcher) open(ctx context.Context, u string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := ErrStatus{URL: u, Code: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp.Body, nil
	case strings.HasPrefix(u, "file://"), filepath.IsAbs(u):
		fd, err := os.Open(strings.TrimPrefix(u, "file://"))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return fd, nil
	}
	return nil, backoff.Permanent(errors.New("unsupported url scheme: " + u))
}

func (f *Fetcher) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.backoff
	b.MaxElapsedTime = 0
	retries := f.retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (f *Fetcher) notify(u string) backoff.Notify {
	return func(err error, d time.Duration) {
		f.l.Debug("Retrying download", "url", u, "in", d, "error", err)
	}
}

func gitName(u string) string {
	u = strings.TrimSuffix(strings.TrimRight(u, "/"), ".git")
	return path.Base(u)
}
