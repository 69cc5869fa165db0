package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/the-maldridge/nport/pkg/archive"
	"github.com/the-maldridge/nport/pkg/fetch"
	"github.com/the-maldridge/nport/pkg/patch"
	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/types"
)

// A stage is one step of the pipeline.  Its fingerprint summarizes
// the inputs; settled stages take it again after running because they
// modify what they fingerprint.  save and restore carry the stage's
// output across runs when the stage is skipped.
type stage struct {
	name        types.Stage
	fingerprint func(*Transaction) (string, error)
	run         func(context.Context, *Transaction) error
	settled     bool
	save        func(*Transaction) interface{}
	restore     func(*Transaction, json.RawMessage) error
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{
			name:        types.StageFetching,
			fingerprint: p.fetchFingerprint,
			run:         p.fetchSources,
			save:        func(t *Transaction) interface{} { return t.Sources },
			restore:     restoreSources,
		},
		{
			name:        types.StageExtracting,
			fingerprint: p.extractFingerprint,
			run:         p.extract,
			save:        func(t *Transaction) interface{} { return t.SrcDir },
			restore:     restoreSrcDir,
		},
		{
			name:        types.StagePatching,
			fingerprint: p.patchFingerprint,
			run:         p.applyPatches,
		},
		{
			name:        types.StageConfiguring,
			fingerprint: p.configureFingerprint,
			run:         p.configure,
			save:        func(t *Transaction) interface{} { return t.System },
			restore:     restoreSystem,
		},
		{
			name:        types.StageCompiling,
			fingerprint: func(t *Transaction) (string, error) { return treeDigest(t.SrcDir) },
			run:         p.compile,
			settled:     true,
		},
		{
			name:        types.StagePackaging,
			fingerprint: func(t *Transaction) (string, error) { return treeDigest(t.Sandbox.Dir) },
			run:         p.stageInstall,
			settled:     true,
			save:        func(t *Transaction) interface{} { return packaged{t.Files, t.Artifact, t.Hash} },
			restore:     restorePackaged,
		},
	}
}

func (p *Pipeline) fetchFingerprint(t *Transaction) (string, error) {
	var parts []string
	for _, s := range t.Desc.Sources {
		parts = append(parts, s.URL, s.Git, s.Ref, s.Checksum, s.Dest)
	}
	return digest(parts...), nil
}

func (p *Pipeline) fetchSources(ctx context.Context, t *Transaction) error {
	if len(t.Desc.Sources) == 0 {
		t.Sources = nil
		return nil
	}
	if p.fetcher == nil {
		return errors.New("no fetcher configured")
	}
	arts, err := p.fetcher.Fetch(ctx, t.Desc.Sources)
	if err != nil {
		return err
	}
	t.Sources = arts
	return nil
}

func restoreSources(t *Transaction, raw json.RawMessage) error {
	var arts []fetch.Artifact
	if err := json.Unmarshal(raw, &arts); err != nil {
		return err
	}
	for _, a := range arts {
		if _, err := os.Stat(a.Path); err != nil {
			return err
		}
	}
	t.Sources = arts
	return nil
}

func (p *Pipeline) extractFingerprint(t *Transaction) (string, error) {
	var parts []string
	for _, a := range t.Sources {
		fi, err := os.Stat(a.Path)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s %d %d %s", filepath.Base(a.Path), fi.Size(), fi.ModTime().UnixNano(), a.Commit))
	}
	return digest(parts...), nil
}

// extract unpacks every source into the sources directory and picks
// the tree the build will run in.
func (p *Pipeline) extract(ctx context.Context, t *Transaction) error {
	dir := t.Sandbox.SourcesDir
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}

	for _, a := range t.Sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.Git {
			err = archive.CopyTree(a.Path, filepath.Join(dir, filepath.Base(a.Path)))
		} else {
			err = archive.Extract(a.Path, dir)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(a.Path), err)
		}
	}
	t.SrcDir, err = archive.SourceRoot(dir)
	return err
}

func restoreSrcDir(t *Transaction, raw json.RawMessage) error {
	var dir string
	if err := json.Unmarshal(raw, &dir); err != nil {
		return err
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	t.SrcDir = dir
	return nil
}

func (p *Pipeline) patchFingerprint(t *Transaction) (string, error) {
	patches, err := patch.Find(t.Desc)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, 2*len(patches))
	for _, pf := range patches {
		b, err := os.ReadFile(pf)
		if err != nil {
			return "", err
		}
		parts = append(parts, filepath.Base(pf), string(b))
	}
	return digest(parts...), nil
}

func (p *Pipeline) applyPatches(ctx context.Context, t *Transaction) error {
	patches, err := patch.Find(t.Desc)
	if err != nil {
		return err
	}
	return patch.Apply(ctx, p.l, t.Sandbox, t.SrcDir, patches)
}

func (p *Pipeline) configureFingerprint(t *Transaction) (string, error) {
	parts := sortedEnv(p.environ(t.Desc))
	parts = append(parts, "--", string(t.Desc.BuildSystem), p.prefix)
	parts = append(parts, t.Desc.ConfigureArgs...)
	for _, name := range []string{"pre_configure", "post_configure"} {
		parts = append(parts, t.Desc.Hooks[name]...)
	}
	return digest(parts...), nil
}

func (p *Pipeline) configure(ctx context.Context, t *Transaction) error {
	t.System = t.Desc.BuildSystem
	if t.System == "" {
		t.System = Detect(t.SrcDir)
		p.l.Debug("Detected build system", "package", t.Desc.Name, "system", t.System)
	}
	h, err := HandlerFor(t.System)
	if err != nil {
		return err
	}
	if err := p.runHooks(ctx, t, "pre_configure"); err != nil {
		return err
	}
	if err := p.run(ctx, t, h.Configure(p.job(t))); err != nil {
		return err
	}
	return p.runHooks(ctx, t, "post_configure")
}

func restoreSystem(t *Transaction, raw json.RawMessage) error {
	var s types.BuildSystem
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	if _, err := HandlerFor(s); err != nil {
		return err
	}
	t.System = s
	return nil
}

// compile builds the tree.  A parallel build that fails is tried once
// more with a single job before giving up, parallel makefiles being a
// common source of spurious failures.
func (p *Pipeline) compile(ctx context.Context, t *Transaction) error {
	h, err := HandlerFor(t.System)
	if err != nil {
		return err
	}
	if err := p.runHooks(ctx, t, "pre_build"); err != nil {
		return err
	}

	j := p.job(t)
	err = p.run(ctx, t, h.Compile(j))
	if err != nil && j.Jobs > 1 && ctx.Err() == nil {
		p.l.Warn("Parallel build failed, retrying with one job", "package", t.Desc.Name, "error", err)
		j.Jobs = 1
		cmds := h.Compile(j)
		for i := range cmds {
			cmds[i].Env = withEnv(cmds[i].Env, "MAKEFLAGS", "-j1")
		}
		err = p.run(ctx, t, cmds)
	}
	if err != nil {
		return err
	}
	if err := p.runHooks(ctx, t, "post_build"); err != nil {
		return err
	}
	return p.runHooks(ctx, t, "check")
}

type packaged struct {
	Files    []types.FileRecord
	Artifact string
	Hash     string
}

func restorePackaged(t *Transaction, raw json.RawMessage) error {
	var pk packaged
	if err := json.Unmarshal(raw, &pk); err != nil {
		return err
	}
	if pk.Artifact != "" {
		if _, err := os.Stat(pk.Artifact); err != nil {
			return err
		}
	}
	t.Files, t.Artifact, t.Hash = pk.Files, pk.Artifact, pk.Hash
	return nil
}

// stageInstall performs the staging install into an empty sandbox and
// packages whatever it produced.
func (p *Pipeline) stageInstall(ctx context.Context, t *Transaction) error {
	sb := t.Sandbox
	if err := sb.Clean(); err != nil {
		return err
	}
	before, err := sandbox.Snapshot(sb.Dir, p.skip)
	if err != nil {
		return err
	}
	h, err := HandlerFor(t.System)
	if err != nil {
		return err
	}

	if err := p.runHooks(ctx, t, "pre_install"); err != nil {
		return err
	}
	for _, c := range h.Install(p.job(t)) {
		if _, err := sb.InstallInto(ctx, c); err != nil {
			return err
		}
	}
	if err := p.runHooks(ctx, t, "post_install"); err != nil {
		return err
	}

	if err := sandbox.NormalizePermissions(sb.Dir, p.fileMode, p.dirMode); err != nil {
		return err
	}
	after, err := sandbox.Snapshot(sb.Dir, p.skip)
	if err != nil {
		return err
	}
	t.Files = sandbox.Diff(before, after)
	if len(t.Files) == 0 {
		p.l.Warn("Staging install produced no files", "package", t.Desc.Name)
	}

	if p.pkgDir == "" {
		return nil
	}
	t.Artifact = filepath.Join(p.pkgDir, archive.PackageName(t.Desc.Name, t.Desc.Version))
	props := archive.Props{
		Name:        t.Desc.Name,
		Version:     t.Desc.Version,
		Description: t.Desc.Description,
		Provides:    t.Desc.Provides,
		BuildDate:   time.Now().UTC().Truncate(time.Second),
		Degraded:    t.Degraded,
	}
	for _, r := range t.Desc.Requires {
		if !r.Optional {
			props.Requires = append(props.Requires, r.String())
		}
	}
	if err := archive.Package(sb.Dir, t.Files, props, t.Artifact); err != nil {
		return err
	}
	t.Hash, err = fetch.Digest(t.Artifact, "sha256")
	return err
}

func withEnv(env map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for ek, ev := range env {
		out[ek] = ev
	}
	out[k] = v
	return out
}

