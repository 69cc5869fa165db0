package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-maldridge/nport/pkg/build"
	"github.com/the-maldridge/nport/pkg/graph"
	"github.com/the-maldridge/nport/pkg/install"
	"github.com/the-maldridge/nport/pkg/types"
)

type fakePorts struct {
	descs map[string]*types.PackageDescriptor
}

func (f *fakePorts) Descriptor(name string) (*types.PackageDescriptor, error) {
	if d, ok := f.descs[name]; ok {
		return d, nil
	}
	return &types.PackageDescriptor{Name: name, Version: "1.0"}, nil
}

type fakeBuilder struct {
	built []string
	fail  map[string]types.Stage
}

func (f *fakeBuilder) Build(ctx context.Context, d *types.PackageDescriptor, o build.Options) (*build.Transaction, error) {
	f.built = append(f.built, d.Name)
	tx := &build.Transaction{Desc: d, Files: []types.FileRecord{{Path: "/usr/bin/" + d.Name, Kind: types.KindFile}}}
	if st, ok := f.fail[d.Name]; ok {
		return tx, build.NewErrStage(d.Name, st, errors.New("exit status 2"))
	}
	return tx, nil
}

type fakeLedger struct {
	entries map[string]types.InstalledEntry
}

func (f *fakeLedger) Get(name string) (types.InstalledEntry, bool, error) {
	e, ok := f.entries[name]
	return e, ok, nil
}

func (f *fakeLedger) List() ([]types.InstalledEntry, error) {
	var out []types.InstalledEntry
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

type fakeInstaller struct {
	lg        *fakeLedger
	installed []string
	removed   []string
	fail      map[string]error
	forced    []bool
}

func (f *fakeInstaller) Install(ctx context.Context, req install.Request) (types.InstalledEntry, error) {
	if err, ok := f.fail[req.Name]; ok {
		return types.InstalledEntry{}, err
	}
	f.installed = append(f.installed, req.Name)
	f.forced = append(f.forced, req.Force)
	e := types.InstalledEntry{Name: req.Name, Version: req.Version}
	f.lg.entries[req.Name] = e
	return e, nil
}

func (f *fakeInstaller) Remove(ctx context.Context, name string) error {
	if err, ok := f.fail[name]; ok {
		return err
	}
	f.removed = append(f.removed, name)
	delete(f.lg.entries, name)
	return nil
}

type rig struct {
	o  *Orchestrator
	g  *graph.Graph
	p  *fakePorts
	b  *fakeBuilder
	i  *fakeInstaller
	lg *fakeLedger
}

// newRig wires a chain app -> lib -> libc.
func newRig() *rig {
	g := graph.New(hclog.NewNullLogger())
	for _, n := range []string{"app", "lib", "libc"} {
		g.AddNode(n, graph.Meta{graph.MetaVersion: "1.0"})
	}
	g.AddEdge("app", "lib", "", false)
	g.AddEdge("lib", "libc", "", false)

	r := &rig{
		g:  g,
		p:  &fakePorts{descs: map[string]*types.PackageDescriptor{}},
		b:  &fakeBuilder{fail: map[string]types.Stage{}},
		lg: &fakeLedger{entries: map[string]types.InstalledEntry{}},
	}
	r.i = &fakeInstaller{lg: r.lg, fail: map[string]error{}}
	r.o = New(
		WithLogger(hclog.NewNullLogger()),
		WithGraph(g),
		WithDescriptors(r.p),
		WithBuilder(r.b),
		WithInstaller(r.i),
		WithLedger(r.lg),
	)
	return r
}

func TestBuildInstallsInOrder(t *testing.T) {
	r := newRig()
	res, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"libc", "lib", "app"}, res.Order)
	assert.Equal(t, []string{"libc", "lib", "app"}, res.Succeeded)
	assert.Equal(t, []string{"libc", "lib", "app"}, r.i.installed)
	assert.Empty(t, res.Failed)
	assert.Same(t, res, r.o.Last())
}

func TestBuildIsIdempotent(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)

	res, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"libc", "lib", "app"}, res.Skipped)
	assert.Empty(t, res.Succeeded)
	assert.Len(t, r.b.built, 3)

	res, err = r.o.Build(context.Background(), "app", BuildOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"libc", "lib", "app"}, res.Succeeded)
	assert.Len(t, r.b.built, 6)
}

func TestBuildStopsAtFirstFailure(t *testing.T) {
	r := newRig()
	r.b.fail["lib"] = types.StageCompiling

	res, err := r.o.Build(context.Background(), "app", BuildOptions{})
	var se build.ErrStage
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"libc"}, res.Succeeded)
	assert.Equal(t, "lib", res.Failed)
	assert.Equal(t, types.StageCompiling, res.Stage)
	assert.Equal(t, []string{"libc", "lib"}, r.b.built)
	assert.Equal(t, []string{"libc"}, r.i.installed)
	assert.Contains(t, res.Error, "compiling")
}

func TestBuildInstallFailure(t *testing.T) {
	r := newRig()
	r.i.fail["libc"] = install.ErrInstall{Package: "libc", Err: errors.New("disk full"), RolledBack: true}

	res, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.Error(t, err)
	assert.Equal(t, "libc", res.Failed)
	assert.Equal(t, types.StageInstalling, res.Stage)
	assert.True(t, res.RolledBack)
	assert.Empty(t, res.Succeeded)

	r.i.fail["libc"] = install.ErrInstall{Package: "libc", Err: errors.New("disk full"), RollbackErr: errors.New("eio")}
	res, err = r.o.Build(context.Background(), "app", BuildOptions{})
	require.Error(t, err)
	assert.False(t, res.RolledBack)
}

func TestBuildVersionConflict(t *testing.T) {
	r := newRig()
	r.g.AddNode("zlib", graph.Meta{graph.MetaVersion: "1.3"})
	r.g.AddEdge("app", "zlib", "==1.2", false)
	r.g.AddEdge("lib", "zlib", "==1.3", false)

	res, err := r.o.Build(context.Background(), "app", BuildOptions{})
	var ce graph.ErrConflict
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "zlib", ce.Conflicts[0].Dependency)
	assert.Empty(t, r.b.built)
	assert.Equal(t, types.StageLoading, res.Stage)

	res, err = r.o.Build(context.Background(), "app", BuildOptions{ForceConflicts: true})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 4)
	for _, f := range r.i.forced {
		assert.True(t, f)
	}
}

func TestBuildUnsatisfiable(t *testing.T) {
	r := newRig()
	r.g.AddEdge("app", "lib", ">=2.0", false)
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	var ue graph.ErrUnsatisfiable
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "lib", ue.Package)
}

func TestBuildDeclaredConflict(t *testing.T) {
	r := newRig()
	r.lg.entries["openssl"] = types.InstalledEntry{Name: "openssl", Version: "3"}
	r.p.descs["lib"] = &types.PackageDescriptor{Name: "lib", Version: "1.0", Conflicts: []string{"openssl"}}

	res, err := r.o.Build(context.Background(), "app", BuildOptions{})
	var ce ErrConflict
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"openssl"}, ce.Installed)
	assert.Equal(t, "lib", res.Failed)
}

func TestBuildUnknownTarget(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "nope", BuildOptions{})
	var ue graph.ErrUnknownPackage
	assert.ErrorAs(t, err, &ue)
}

func TestBuildCancelled(t *testing.T) {
	r := newRig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.o.Build(ctx, "app", BuildOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.b.built)
}

func TestUpgradeRebuildsOnlyOutdated(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)
	r.lg.entries["gone"] = types.InstalledEntry{Name: "gone", Version: "1"}

	r.g.AddNode("lib", graph.Meta{graph.MetaVersion: "2.0"})
	r.p.descs["lib"] = &types.PackageDescriptor{Name: "lib", Version: "2.0"}

	stale, err := r.o.Outdated(nil)
	require.NoError(t, err)
	assert.Equal(t, []Outdated{{Name: "lib", Installed: "1.0", Available: "2.0"}}, stale)

	res, err := r.o.Upgrade(context.Background(), nil, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"libc", "lib"}, res.Order)
	assert.Equal(t, []string{"lib"}, res.Succeeded)
	assert.Equal(t, []string{"libc"}, res.Skipped)
	assert.Equal(t, []string{"libc", "lib", "app", "lib"}, r.b.built)
	assert.Equal(t, "2.0", r.lg.entries["lib"].Version)
	assert.Same(t, res, r.o.Last())
}

func TestUpgradeNothingOutdated(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)

	res, err := r.o.Upgrade(context.Background(), nil, BuildOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Order)
	assert.Empty(t, res.Succeeded)
	assert.Len(t, r.b.built, 3)

	// An older port never counts as an upgrade.
	r.g.AddNode("app", graph.Meta{graph.MetaVersion: "0.9"})
	stale, err := r.o.Outdated([]string{"app"})
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestUpgradeTargets(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "lib", BuildOptions{})
	require.NoError(t, err)
	r.g.AddNode("libc", graph.Meta{graph.MetaVersion: "1.1"})

	res, err := r.o.Upgrade(context.Background(), []string{"app"}, BuildOptions{})
	var ni install.ErrNotInstalled
	require.ErrorAs(t, err, &ni)
	assert.Equal(t, "app", ni.Package)
	assert.Equal(t, types.StageLoading, res.Stage)

	res, err = r.o.Upgrade(context.Background(), []string{"lib"}, BuildOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)

	res, err = r.o.Upgrade(context.Background(), []string{"libc"}, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"libc"}, res.Succeeded)
}

func TestRemoveGuardsDependents(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)

	_, err = r.o.Remove(context.Background(), []string{"lib"}, RemoveOptions{})
	var de ErrDependents
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"app"}, de.Dependents)
	assert.Empty(t, r.i.removed)

	res, err := r.o.Remove(context.Background(), []string{"lib"}, RemoveOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "lib"}, res.Removed)
	_, ok, _ := r.lg.Get("libc")
	assert.True(t, ok)
}

func TestRemoveForce(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)

	res, err := r.o.Remove(context.Background(), []string{"libc"}, RemoveOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"libc"}, res.Removed)
}

func TestRemoveNotInstalled(t *testing.T) {
	r := newRig()
	res, err := r.o.Remove(context.Background(), []string{"lib"}, RemoveOptions{})
	var ni install.ErrNotInstalled
	require.ErrorAs(t, err, &ni)
	assert.Equal(t, "lib", res.Failed)
}

func TestRemoveOrphanedPort(t *testing.T) {
	r := newRig()
	r.lg.entries["gone"] = types.InstalledEntry{Name: "gone", Version: "1"}
	res, err := r.o.Remove(context.Background(), []string{"gone"}, RemoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, res.Removed)
}

func TestRemoveFailureReported(t *testing.T) {
	r := newRig()
	_, err := r.o.Build(context.Background(), "app", BuildOptions{})
	require.NoError(t, err)
	r.i.fail["app"] = install.ErrRemove{Package: "app", Err: errors.New("busy"), RolledBack: true}

	res, err := r.o.Remove(context.Background(), []string{"app"}, RemoveOptions{})
	require.Error(t, err)
	assert.Equal(t, "app", res.Failed)
	assert.True(t, res.RolledBack)
}

func TestMisconfigured(t *testing.T) {
	_, err := New().Build(context.Background(), "app", BuildOptions{})
	var me ErrMisconfigured
	assert.ErrorAs(t, err, &me)
}

func TestPlanAndHTTP(t *testing.T) {
	r := newRig()
	r.lg.entries["libc"] = types.InstalledEntry{Name: "libc", Version: "1.0"}

	plan, err := r.o.Plan("app", false)
	require.NoError(t, err)
	require.Len(t, plan, 3)
	assert.True(t, plan[0].Installed)
	assert.False(t, plan[2].Installed)

	srv := httptest.NewServer(r.o.HTTPEntry())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/last")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/plan/app")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/plan/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
