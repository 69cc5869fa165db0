package graph

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/the-maldridge/nport/pkg/statefile"
)

func writePort(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, rel, "Portfile.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
}

func seedTree(t *testing.T) string {
	root := t.TempDir()
	writePort(t, root, "apps/curl", "version: 8.5.0\ndepends: [ssl, \"zlib>=1.2\"]\n")
	writePort(t, root, "libs/zlib", "version: 1.3.1\n")
	writePort(t, root, "libs/openssl", "version: 3.2.0\nprovides: [ssl]\n")
	writePort(t, root, "libs/broken", "depends: [zlib]\n")
	return root
}

func TestBootstrapImportsAndPersists(t *testing.T) {
	root := seedTree(t)
	state := filepath.Join(t.TempDir(), "graph.json")

	m := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state), WithParallelism(2))
	require.NoError(t, m.Bootstrap(false))

	assert.Equal(t, []string{"curl", "openssl", "zlib"}, m.Graph().Nodes())
	order, err := m.Graph().InstallOrder([]string{"curl"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"openssl", "zlib", "curl"}, order)

	_, err = os.Stat(state)
	require.NoError(t, err)

	// A second manager sees the same graph without re-importing.
	m2 := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state))
	require.NoError(t, m2.Load())
	assert.Equal(t, m.Graph().Export(), m2.Graph().Export())

	d, err := m2.Descriptor("ssl")
	require.NoError(t, err)
	assert.Equal(t, "openssl", d.Name)
	assert.Equal(t, "libs", d.Category)

	_, err = m2.Descriptor("nope")
	assert.ErrorAs(t, err, new(ErrUnknownPackage))
}

func TestImportChanged(t *testing.T) {
	root := seedTree(t)
	m := NewManager(hclog.NewNullLogger(), WithPortsDir(root))
	require.NoError(t, m.ImportAll())

	require.NoError(t, os.RemoveAll(filepath.Join(root, "libs", "openssl")))
	writePort(t, root, "libs/zlib", "version: 1.3.2\n")
	writePort(t, root, "devel/make", "version: 4.4\n")

	require.NoError(t, m.ImportChanged([]string{
		"libs/openssl/Portfile.yaml",
		"libs/zlib/patches/fix.patch",
		"devel/make/Portfile.yaml",
		"README.md",
	}))

	assert.False(t, m.Graph().Has("openssl"))
	assert.False(t, m.Graph().Has("ssl"))
	meta, ok := m.Graph().Node("zlib")
	require.True(t, ok)
	assert.Equal(t, "1.3.2", meta[MetaVersion])
	assert.True(t, m.Graph().Has("make"))

	// curl's edge to the removed provider is now dangling.
	_, err := m.Graph().InstallOrder([]string{"curl"}, false)
	assert.ErrorAs(t, err, new(ErrUnknownPackage))
}

func TestSyncWithoutCheckout(t *testing.T) {
	m := NewManager(hclog.NewNullLogger(), WithPortsDir(t.TempDir()))
	_, err := m.Sync()
	assert.Error(t, err)
}

type fakeCheckout struct {
	changed []string
	fetched bool
}

func (f *fakeCheckout) Bootstrap() error { return nil }
func (f *fakeCheckout) Fetch() error {
	f.fetched = true
	return nil
}
func (f *fakeCheckout) Resolve(string) (string, error) { return "cafe", nil }
func (f *fakeCheckout) Checkout(string) ([]string, error) { return f.changed, nil }
func (f *fakeCheckout) At() (string, error) { return "cafe", nil }

func TestSyncImportsChanged(t *testing.T) {
	root := seedTree(t)
	state := filepath.Join(t.TempDir(), "graph.json")
	cm := &fakeCheckout{changed: []string{"devel/make/Portfile.yaml"}}

	m := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state), WithCheckout(cm, "main"))
	require.NoError(t, m.Bootstrap(false))

	writePort(t, root, "devel/make", "version: 4.4\n")
	changed, err := m.Sync()
	require.NoError(t, err)
	assert.True(t, cm.fetched)
	assert.Equal(t, cm.changed, changed)
	assert.True(t, m.Graph().Has("make"))
}

// lockWatcher is a checkout that records whether the graph state was
// locked by someone else while it was being moved.
type lockWatcher struct {
	fakeCheckout
	state  string
	locked bool
}

func (l *lockWatcher) Checkout(ref string) ([]string, error) {
	f, err := os.OpenFile(statefile.LockPath(l.state), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		l.locked = true
	} else {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}
	return l.fakeCheckout.Checkout(ref)
}

func TestSyncHoldsStateLock(t *testing.T) {
	root := seedTree(t)
	state := filepath.Join(t.TempDir(), "graph.json")
	cm := &lockWatcher{state: state}

	m := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state), WithCheckout(cm, "main"))
	_, err := m.Sync()
	require.NoError(t, err)
	assert.True(t, cm.locked)
}

func TestBootstrapKeepsConcurrentImport(t *testing.T) {
	root := seedTree(t)
	state := filepath.Join(t.TempDir(), "graph.json")

	a := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state))
	require.NoError(t, a.Bootstrap(false))

	// Another process syncs a new port in while a still holds its
	// old view of the graph.
	writePort(t, root, "devel/make", "version: 4.4\n")
	b := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state))
	require.NoError(t, b.Bootstrap(false))
	require.True(t, b.Graph().Has("make"))

	require.NoError(t, a.Bootstrap(false))
	assert.True(t, a.Graph().Has("make"))

	c := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state))
	require.NoError(t, c.Load())
	assert.True(t, c.Graph().Has("make"))
}

func TestBootstrapWaitsForLock(t *testing.T) {
	root := seedTree(t)
	state := filepath.Join(t.TempDir(), "graph.json")
	lk, err := statefile.Acquire(state)
	require.NoError(t, err)

	m := NewManager(hclog.NewNullLogger(), WithPortsDir(root), WithStatePath(state))
	done := make(chan error, 1)
	go func() { done <- m.Bootstrap(false) }()

	select {
	case <-done:
		t.Fatal("bootstrap ran while the state was locked")
	case <-time.After(100 * time.Millisecond):
	}
	require.NoError(t, lk.Release())
	require.NoError(t, <-done)
	assert.True(t, m.Graph().Has("curl"))
}

func TestImportChangedFindsPortAtAnyDepth(t *testing.T) {
	root := t.TempDir()
	writePort(t, root, "foo", "version: 1.0\n")
	writePort(t, root, "libs/bar", "version: 1.0\n")
	m := NewManager(hclog.NewNullLogger(), WithPortsDir(root))
	require.NoError(t, m.ImportAll())
	require.True(t, m.Graph().Has("foo"))

	cases := map[string]string{
		"foo/patches/x.patch":     "foo",
		"foo/Portfile.yaml":       "foo",
		"libs/bar/files/a/b.conf": "libs/bar",
		"libs/bar/Portfile.yaml":  "libs/bar",
		"README.md":               "",
		".git/HEAD":               "",
		"libs/README":             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, m.portDir(in), in)
	}

	writePort(t, root, "foo", "version: 1.1\n")
	require.NoError(t, m.ImportChanged([]string{"foo/patches/x.patch"}))
	meta, ok := m.Graph().Node("foo")
	require.True(t, ok)
	assert.Equal(t, "1.1", meta[MetaVersion])
}
