package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-maldridge/nport/pkg/ledger"
	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/types"
)

type fixture struct {
	i       *Installer
	lg      *ledger.Ledger
	root    string
	stage   string
	journal string
}

func newFixture(t *testing.T) *fixture {
	base := t.TempDir()
	f := &fixture{
		root:    filepath.Join(base, "root"),
		stage:   filepath.Join(base, "stage"),
		journal: filepath.Join(base, "journal"),
	}
	require.NoError(t, os.MkdirAll(f.root, 0755))
	require.NoError(t, os.MkdirAll(f.stage, 0755))
	f.lg = ledger.New(hclog.NewNullLogger(), filepath.Join(base, "installed.json"))
	f.i = New(hclog.NewNullLogger(), f.lg, WithRoot(f.root), WithJournal(f.journal), WithSpaceFactor(2))
	f.i.freeSpace = func(string) (uint64, error) { return 1 << 40, nil }
	return f
}

func write(t *testing.T, base, rel, content string) {
	t.Helper()
	p := filepath.Join(base, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func read(t *testing.T, base, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(b)
}

// staged snapshots the stage directory the way the pipeline does.
func (f *fixture) request(t *testing.T, name, version string) Request {
	recs, err := sandbox.Snapshot(f.stage, nil)
	require.NoError(t, err)
	return Request{Name: name, Version: version, Source: f.stage, Files: recs}
}

func (f *fixture) journalEmpty(t *testing.T) {
	ents, err := os.ReadDir(f.journal)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestInstallFresh(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "usr/bin/foo", "#!/bin/sh\n")
	require.NoError(t, os.Symlink("foo", filepath.Join(f.stage, "usr", "bin", "foo-link")))

	entry, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr", "/usr/bin", "/usr/bin/foo", "/usr/bin/foo-link"}, entry.Files)
	assert.Equal(t, "#!/bin/sh\n", read(t, f.root, "usr/bin/foo"))
	link, err := os.Readlink(filepath.Join(f.root, "usr", "bin", "foo-link"))
	require.NoError(t, err)
	assert.Equal(t, "foo", link)

	got, ok, err := f.lg.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.0", got.Version)
	f.journalEmpty(t)
}

func TestInstallRollsBack(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "etc/x", "old")
	write(t, f.stage, "etc/x", "new")
	write(t, f.stage, "etc/y", "new")
	write(t, f.stage, "etc/z", "new")
	f.i.fault = func(p string) error {
		if p == "/etc/z" {
			return errors.New("disk on fire")
		}
		return nil
	}

	_, err := f.i.Install(context.Background(), f.request(t, "cfg", "1.0"))
	var ie ErrInstall
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "cfg", ie.Package)
	assert.Equal(t, "/etc/z", ie.Path)
	assert.True(t, ie.RolledBack)
	assert.NoError(t, ie.RollbackErr)

	assert.Equal(t, "old", read(t, f.root, "etc/x"))
	assert.NoFileExists(t, filepath.Join(f.root, "etc", "y"))
	assert.NoFileExists(t, filepath.Join(f.root, "etc", "z"))
	assert.False(t, f.lg.Installed("cfg"))
	f.journalEmpty(t)
}

func TestInstallRestoresReplacedDirectory(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "opt/thing/child", "kept")
	write(t, f.stage, "opt/thing", "now a file")
	write(t, f.stage, "opt/zz", "later")
	f.i.fault = func(p string) error {
		if p == "/opt/zz" {
			return errors.New("boom")
		}
		return nil
	}

	_, err := f.i.Install(context.Background(), f.request(t, "thing", "1.0"))
	require.Error(t, err)
	assert.Equal(t, "kept", read(t, f.root, "opt/thing/child"))
}

func TestInstallCancelled(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "usr/share/a", "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.i.Install(ctx, f.request(t, "a", "1.0"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, filepath.Join(f.root, "usr"))
	assert.False(t, f.lg.Installed("a"))
}

func TestInstallInsufficientSpace(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "usr/share/big", "0123456789")
	f.i.freeSpace = func(string) (uint64, error) { return 15, nil }

	_, err := f.i.Install(context.Background(), f.request(t, "big", "1.0"))
	var se ErrInsufficientSpace
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint64(20), se.Need)
	assert.NoDirExists(t, filepath.Join(f.root, "usr"))
}

func TestInstallFileConflict(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.lg.Put(types.InstalledEntry{Name: "other", Version: "1", Files: []string{"/usr", "/usr/bin", "/usr/bin/tool"}}))
	write(t, f.root, "usr/bin/tool", "theirs")
	write(t, f.stage, "usr/bin/tool", "ours")

	req := f.request(t, "mine", "1.0")
	_, err := f.i.Install(context.Background(), req)
	var fc ErrFileConflict
	require.ErrorAs(t, err, &fc)
	assert.Equal(t, map[string]string{"/usr/bin/tool": "other"}, fc.Owners)
	assert.Equal(t, "theirs", read(t, f.root, "usr/bin/tool"))

	req.Force = true
	_, err = f.i.Install(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ours", read(t, f.root, "usr/bin/tool"))
}

func TestUpgradeDropsObsoleteFiles(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "usr/lib/libfoo.so.1", "v1")
	_, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(f.stage))
	write(t, f.stage, "usr/lib/libfoo.so.2", "v2")
	_, err = f.i.Install(context.Background(), f.request(t, "foo", "2.0"))
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(f.root, "usr", "lib", "libfoo.so.1"))
	assert.Equal(t, "v2", read(t, f.root, "usr/lib/libfoo.so.2"))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "usr/share/foo/a", "a")
	write(t, f.stage, "usr/share/foo/b", "b")
	_, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	require.NoError(t, err)
	write(t, f.root, "usr/share/unowned", "someone else's")

	require.NoError(t, f.i.Remove(context.Background(), "foo"))
	assert.NoDirExists(t, filepath.Join(f.root, "usr", "share", "foo"))
	assert.FileExists(t, filepath.Join(f.root, "usr", "share", "unowned"))
	assert.False(t, f.lg.Installed("foo"))
	f.journalEmpty(t)

	var ni ErrNotInstalled
	assert.ErrorAs(t, f.i.Remove(context.Background(), "foo"), &ni)
}

func TestRemovePrunesEmptyParents(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.lg.Put(types.InstalledEntry{Name: "foo", Version: "1", Files: []string{"/opt/foo/deep/file"}}))
	write(t, f.root, "opt/foo/deep/file", "x")

	require.NoError(t, f.i.Remove(context.Background(), "foo"))
	assert.NoDirExists(t, filepath.Join(f.root, "opt"))
	assert.DirExists(t, f.root)
}

func TestRemoveRestoresOnFailure(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "usr/share/foo/a", "a")
	write(t, f.stage, "usr/share/foo/b", "b")
	_, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	require.NoError(t, err)

	f.i.fault = func(p string) error {
		if p == "/usr/share/foo/a" {
			return errors.New("busy")
		}
		return nil
	}
	err = f.i.Remove(context.Background(), "foo")
	var re ErrRemove
	require.ErrorAs(t, err, &re)
	assert.True(t, re.RolledBack)
	assert.Equal(t, "a", read(t, f.root, "usr/share/foo/a"))
	assert.Equal(t, "b", read(t, f.root, "usr/share/foo/b"))
	assert.True(t, f.lg.Installed("foo"))
}

func TestRecoverRollsBackInterruptedInstall(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "etc/conf", "old")
	write(t, f.stage, "etc/conf", "new")
	write(t, f.stage, "etc/extra", "new")
	req := f.request(t, "conf", "1.0")

	// Replay the first half of Install and stop as if killed.
	j, err := f.i.begin(opInstall, req.Name, req.Version, time.Now().UTC())
	require.NoError(t, err)
	for _, rec := range req.Files {
		e, err := j.backup(f.i.target(rec.Path), rec.Path, rec.Kind)
		require.NoError(t, err)
		j.m.Entries = append(j.m.Entries, e)
	}
	require.NoError(t, j.save())
	for _, rec := range req.Files {
		require.NoError(t, place(req.Source, f.i.target(rec.Path), rec))
	}
	assert.Equal(t, "new", read(t, f.root, "etc/conf"))

	names, err := f.i.Recover()
	require.NoError(t, err)
	assert.Equal(t, []string{"conf"}, names)
	assert.Equal(t, "old", read(t, f.root, "etc/conf"))
	assert.NoFileExists(t, filepath.Join(f.root, "etc", "extra"))
	f.journalEmpty(t)
}

func TestRecoverKeepsCommittedInstall(t *testing.T) {
	f := newFixture(t)
	write(t, f.stage, "etc/conf", "new")
	req := f.request(t, "conf", "1.0")
	entry, err := f.i.Install(context.Background(), req)
	require.NoError(t, err)

	// A journal whose discard never happened.
	j, err := f.i.begin(opInstall, req.Name, req.Version, entry.InstalledAt)
	require.NoError(t, err)
	j.m.Entries = []backupEntry{{Path: "/etc/conf"}}
	require.NoError(t, j.save())

	names, err := f.i.Recover()
	require.NoError(t, err)
	assert.Equal(t, []string{"conf"}, names)
	assert.Equal(t, "new", read(t, f.root, "etc/conf"))
	f.journalEmpty(t)
}

func TestRecoverNothingToDo(t *testing.T) {
	f := newFixture(t)
	names, err := f.i.Recover()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func mergedUsr(t *testing.T, f *fixture) {
	t.Helper()
	write(t, f.root, "usr/lib/libc.so", "libc")
	require.NoError(t, os.Symlink("usr/lib", filepath.Join(f.root, "lib")))
	write(t, f.stage, "lib/libfoo.so", "foo")
}

func assertLinked(t *testing.T, f *fixture) {
	t.Helper()
	link, err := os.Readlink(filepath.Join(f.root, "lib"))
	require.NoError(t, err)
	assert.Equal(t, "usr/lib", link)
	assert.Equal(t, "libc", read(t, f.root, "lib/libc.so"))
}

func TestInstallThroughLinkedDirectory(t *testing.T) {
	f := newFixture(t)
	mergedUsr(t, f)

	entry, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib", "/lib/libfoo.so"}, entry.Files)
	assertLinked(t, f)
	assert.Equal(t, "foo", read(t, f.root, "usr/lib/libfoo.so"))

	require.NoError(t, f.i.Remove(context.Background(), "foo"))
	assertLinked(t, f)
	assert.NoFileExists(t, filepath.Join(f.root, "usr", "lib", "libfoo.so"))
	f.journalEmpty(t)
}

func TestRollbackKeepsLinkedDirectory(t *testing.T) {
	f := newFixture(t)
	mergedUsr(t, f)
	f.i.fault = func(p string) error {
		if p == "/lib/libfoo.so" {
			return errors.New("boom")
		}
		return nil
	}

	_, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	var ie ErrInstall
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.RolledBack)
	assertLinked(t, f)
}

func TestUpgradeKeepsLinkedDirectory(t *testing.T) {
	f := newFixture(t)
	mergedUsr(t, f)
	_, err := f.i.Install(context.Background(), f.request(t, "foo", "1.0"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(f.stage, "lib")))
	write(t, f.stage, "usr/share/foo/data", "d")
	_, err = f.i.Install(context.Background(), f.request(t, "foo", "2.0"))
	require.NoError(t, err)

	assertLinked(t, f)
	assert.NoFileExists(t, filepath.Join(f.root, "usr", "lib", "libfoo.so"))
}
