package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	git "github.com/go-git/go-git/v5"
	gitPlumbing "github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"
)

// New creates a new instance of RepoMngr for the checkout at path
// tracking url.
func New(l hclog.Logger, path, url string) *RepoMngr {
	x := RepoMngr{
		l:    l.Named("git"),
		Path: path,
		URL:  url,
		Mu:   new(sync.Mutex),
	}
	return &x
}

// Bootstrap opens the repository at Path, cloning it from URL first
// if there is nothing there yet.
func (r *RepoMngr) Bootstrap() error {
	if r.Path == "" {
		return errors.New("repo manager: path must be set to bootstrap")
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()

	repo, err := git.PlainOpen(r.Path)
	if err == nil {
		r.repo = repo
		return nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return err
	}
	if r.URL == "" {
		return errors.New("repo manager: no repository at " + r.Path + " and no url to clone")
	}

	r.l.Debug("Cloning repository", "path", r.Path, "url", r.URL)
	r.repo, err = git.PlainClone(r.Path, false, &git.CloneOptions{URL: r.URL})
	if err != nil {
		r.l.Trace("Error running PlainClone")
		return err
	}
	return nil
}

// At returns the current HEAD hash
func (r *RepoMngr) At() (string, error) {
	if r.repo == nil {
		return "", errors.New("repo manager: not bootstrapped")
	}
	head, err := r.repo.Head()
	if err != nil {
		r.l.Trace("Error getting HEAD")
		return "", err
	}
	return head.Hash().String(), nil
}

// Resolve turns a branch, tag or hash into a commit hash.  Branches
// are looked up on origin first so that a fetch is enough to move
// them.
func (r *RepoMngr) Resolve(ref string) (string, error) {
	if r.repo == nil {
		return "", errors.New("repo manager: not bootstrapped")
	}
	if isHash(ref) {
		return ref, nil
	}
	candidates := []string{
		"refs/remotes/origin/" + ref,
		"refs/tags/" + ref,
		ref,
	}
	var lastErr error
	for _, c := range candidates {
		h, err := r.repo.ResolveRevision(gitPlumbing.Revision(c))
		if err == nil {
			return h.String(), nil
		}
		lastErr = err
	}
	return "", lastErr
}

// Checkout a particular revision and return the paths that differ
// from the previous HEAD.
func (r *RepoMngr) Checkout(commit string) ([]string, error) {
	if r.repo == nil {
		return nil, errors.New("repo manager: must be bootstrapped to checkout")
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()

	oldHead, err := r.repo.Head()
	if err != nil {
		r.l.Trace("Error getting old HEAD")
		return nil, err
	}
	oldCommit, err := r.repo.CommitObject(oldHead.Hash())
	if err != nil {
		r.l.Trace("Error getting old CommitObject")
		return nil, err
	}
	r.l.Debug("Attempting to checkout in git repository", "path", r.Path,
		"old", oldHead.Hash().String(), "new", commit)

	if oldHead.Hash().String() == commit {
		r.l.Trace("Nothing changed in checkout")
		return []string{}, nil
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		r.l.Trace("Error getting worktree")
		return nil, err
	}
	newHash := gitPlumbing.NewHash(commit)
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: newHash, Force: true}); err != nil {
		return nil, err
	}

	newCommit, err := r.repo.CommitObject(newHash)
	if err != nil {
		r.l.Trace("Error getting new CommitObject")
		return nil, err
	}
	diff, err := oldCommit.Patch(newCommit)
	if err != nil {
		r.l.Trace("Error getting patch")
		return nil, err
	}
	stats := diff.Stats()
	r.l.Debug("Files were changed in checkout", "count", strconv.Itoa(len(stats)))
	changed := make([]string, len(stats))
	for i := range stats {
		r.l.Trace("File was changed in checkout", "path", stats[i].Name)
		changed[i] = stats[i].Name
	}
	return changed, nil
}

// Fetch origin
func (r *RepoMngr) Fetch() error {
	if r.repo == nil {
		return errors.New("repo manager: must be bootstrapped to fetch")
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.l.Debug("Fetching origin for git repository", "path", r.Path)
	err := r.repo.Fetch(&git.FetchOptions{RemoteName: "origin", Tags: git.AllTags})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		r.l.Trace("Error fetching")
		return err
	}
	return nil
}

// Mirror maintains a clone of url at path for use as a build input
// and leaves its worktree at ref.  An existing clone is fetched
// rather than cloned again.  The resolved commit is returned.
func Mirror(ctx context.Context, l hclog.Logger, url, path, ref string) (string, error) {
	l = l.Named("git")
	repo, err := git.PlainOpen(path)
	switch {
	case err == nil:
		l.Debug("Updating mirror", "path", path, "url", url)
		err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Tags: git.AllTags})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return "", err
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", err
		}
		l.Debug("Cloning mirror", "path", path, "url", url)
		repo, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{URL: url, Tags: git.AllTags})
		if err != nil {
			os.RemoveAll(path)
			return "", err
		}
	default:
		return "", err
	}

	r := &RepoMngr{l: l, Path: path, URL: url, Mu: new(sync.Mutex), repo: repo}
	if ref == "" {
		return r.At()
	}
	hash, err := r.Resolve(ref)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: gitPlumbing.NewHash(hash), Force: true}); err != nil {
		return "", err
	}
	return hash, nil
}

func isHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
