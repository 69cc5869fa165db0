package build

import (
	"os"

	"github.com/the-maldridge/nport/pkg/config"
	"github.com/the-maldridge/nport/pkg/fetch"
	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/storage"
)

// WithFetcher sets the source fetcher.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// WithCache sets the store that fingerprints are kept in.
func WithCache(s storage.Storage) Option {
	return func(p *Pipeline) {
		p.cache = s
	}
}

// WithSandbox sets the options every sandbox is created with.
func WithSandbox(o sandbox.Options) Option {
	return func(p *Pipeline) {
		p.sandbox = o
	}
}

// WithJobs sets the compile parallelism.
func WithJobs(n int) Option {
	return func(p *Pipeline) {
		p.jobs = n
	}
}

// WithEnv adds variables to every build command.
func WithEnv(env map[string]string) Option {
	return func(p *Pipeline) {
		p.env = env
	}
}

// WithToolchain points at a directory holding an alternate toolchain.
func WithToolchain(dir string) Option {
	return func(p *Pipeline) {
		p.toolchain = dir
	}
}

// WithSkip sets the snapshot skip patterns.
func WithSkip(patterns []string) Option {
	return func(p *Pipeline) {
		p.skip = patterns
	}
}

// WithModes sets the permissions staged files are normalized to.
func WithModes(file, dir os.FileMode) Option {
	return func(p *Pipeline) {
		p.fileMode = file
		p.dirMode = dir
	}
}

// WithPackageDir sets where binary packages are written.
func WithPackageDir(dir string) Option {
	return func(p *Pipeline) {
		p.pkgDir = dir
	}
}

// WithLogDir sets where per package build logs are written.
func WithLogDir(dir string) Option {
	return func(p *Pipeline) {
		p.logDir = dir
	}
}

// ConfigOptions translates the configuration into pipeline options.
func ConfigOptions(c *config.Config) []Option {
	return []Option{
		WithSandbox(sandbox.Options{
			BuildRoot:        c.Paths.BuildRoot,
			Namespace:        c.Sandbox.Namespace,
			RequireNamespace: c.Sandbox.RequireNamespace,
			Fakeroot:         c.Sandbox.Fakeroot,
			RequireFakeroot:  c.Sandbox.RequireFakeroot,
			BwrapBin:         c.Sandbox.BwrapBin,
			FakerootBin:      c.Sandbox.FakerootBin,
			ShareNet:         c.Sandbox.ShareNet,
			ReadOnlyBinds:    c.Sandbox.ReadOnlyBinds,
			Timeout:          c.Build.Timeout,
		}),
		WithJobs(c.Build.Jobs),
		WithEnv(c.Build.Env),
		WithToolchain(c.Paths.Toolchain),
		WithSkip(c.Sandbox.Skip),
		WithModes(c.Sandbox.DefaultFileMode(), c.Sandbox.DefaultDirMode()),
		WithPackageDir(c.Paths.Packages),
		WithLogDir(c.Paths.Logs),
	}
}

var _ Fetcher = (*fetch.Fetcher)(nil)
