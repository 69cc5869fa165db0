// Package build runs ports through the stages that turn a
// descriptor into staged files and a binary package.
package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/storage/mem"
	"github.com/the-maldridge/nport/pkg/types"
)

// New returns a pipeline.  Without a cache, fingerprints live only as
// long as the process.
func New(l hclog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		l:        l.Named("build"),
		jobs:     runtime.NumCPU(),
		prefix:   "/usr",
		fileMode: 0644,
		dirMode:  0755,
	}
	for _, o := range opts {
		o(p)
	}
	if p.cache == nil {
		p.cache = mem.New()
	}
	return p
}

// Build runs every stage for desc.  The returned transaction must be
// closed by the caller, also when an error is returned alongside it.
func (p *Pipeline) Build(ctx context.Context, desc *types.PackageDescriptor, opts Options) (*Transaction, error) {
	l := p.l.With("package", desc.Name, "version", desc.Version)
	t := &Transaction{Desc: desc, keep: opts.Keep}

	logOut, err := p.openLog(desc)
	if err != nil {
		l.Warn("Build log unavailable", "error", err)
	}
	t.log = logOut

	so := p.sandbox
	so.Force = opts.Force
	so.Env = p.environ(desc)
	if tc := p.toolchainDir(); tc != "" {
		so.ReadOnlyBinds = append(append([]string(nil), so.ReadOnlyBinds...), tc)
	}
	if logOut != nil {
		so.Output = logOut
	}
	sb, err := sandbox.Create(l, so, desc.Category, desc.Name, desc.Version)
	if err != nil {
		t.closeLog()
		return nil, NewErrStage(desc.Name, types.StageFetching, err)
	}
	t.Sandbox = sb
	t.Degraded = sb.Degraded()
	if !sb.Reused {
		p.purge(desc)
	}

	stages := p.stages()
	clean := sb.Reused && !opts.Force
	for i, st := range stages {
		t.Stage = st.name
		if err := ctx.Err(); err != nil {
			return t, NewErrStage(desc.Name, st.name, err)
		}
		fp, err := st.fingerprint(t)
		if err != nil {
			return t, NewErrStage(desc.Name, st.name, err)
		}
		if clean {
			if p.upToDate(t, st, fp) {
				l.Debug("Stage up to date", "stage", st.name)
				t.Skipped = append(t.Skipped, st.name)
				continue
			}
			clean = false
		}
		if i == 0 || len(t.Skipped) == i {
			// Everything from here on runs again, stale
			// results must not survive a failure below.
			p.forget(desc, stages[i:])
		}

		l.Debug("Entering stage", "stage", st.name)
		if err := st.run(ctx, t); err != nil {
			l.Error("Stage failed", "stage", st.name, "error", err)
			return t, NewErrStage(desc.Name, st.name, err)
		}
		if st.settled {
			if fp, err = st.fingerprint(t); err != nil {
				return t, NewErrStage(desc.Name, st.name, err)
			}
		}
		p.remember(t, st, fp)
	}
	l.Info("Build complete", "files", len(t.Files), "artifact", t.Artifact, "cached", len(t.Skipped))
	return t, nil
}

// Root is the directory the staged files live in.
func (t *Transaction) Root() string {
	if t.Sandbox == nil {
		return ""
	}
	return t.Sandbox.Dir
}

// Close ends the transaction, removing the build directory unless it
// was asked to be kept.
func (t *Transaction) Close() error {
	t.closeLog()
	if t.keep || t.Sandbox == nil {
		return nil
	}
	return t.Sandbox.Destroy()
}

func (t *Transaction) closeLog() {
	if t.log != nil {
		t.log.Close()
		t.log = nil
	}
}

func (p *Pipeline) openLog(desc *types.PackageDescriptor) (*os.File, error) {
	if p.logDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(p.logDir, 0755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(p.logDir, desc.Name+"-"+desc.Version+".log"))
}

func (p *Pipeline) run(ctx context.Context, t *Transaction, cmds []sandbox.Command) error {
	for _, c := range cmds {
		if _, err := t.Sandbox.Run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// runHooks runs the scripts a port attached to name.  A failing check
// hook is reported but does not fail the build.
func (p *Pipeline) runHooks(ctx context.Context, t *Transaction, name string) error {
	for _, script := range t.Desc.Hooks[name] {
		c := sandbox.Shell(script)
		c.Dir = t.SrcDir
		c.Env = map[string]string{"DESTDIR": t.Sandbox.DestDir()}
		_, err := t.Sandbox.Run(ctx, c)
		switch {
		case err == nil:
		case name == "check" && !errors.Is(err, context.Canceled):
			p.l.Warn("Check hook failed", "package", t.Desc.Name, "error", err)
		default:
			return err
		}
	}
	return nil
}

func (p *Pipeline) job(t *Transaction) Job {
	return Job{
		Desc:    t.Desc,
		SrcDir:  t.SrcDir,
		DestDir: t.Sandbox.DestDir(),
		Prefix:  p.prefix,
		Jobs:    p.jobs,
	}
}

