package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-maldridge/nport/pkg/types"
)

func noTools(string) (string, error) {
	return "", errors.New("not found")
}

func allTools(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

func hostSandbox(t *testing.T, opts Options) *Sandbox {
	t.Helper()
	opts.BuildRoot = t.TempDir()
	opts.LookPath = noTools
	s, err := Create(hclog.NewNullLogger(), opts, "devel", "foo", "1.0")
	require.NoError(t, err)
	return s
}

func TestCreateLayout(t *testing.T) {
	root := t.TempDir()
	s, err := Create(hclog.NewNullLogger(), Options{BuildRoot: root, LookPath: noTools}, "devel", "foo", "1.0")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "devel", "foo", "1.0"), s.BuildDir)
	assert.DirExists(t, s.Dir)
	assert.DirExists(t, s.SourcesDir)
	assert.False(t, s.Reused)

	require.NoError(t, os.WriteFile(filepath.Join(s.SourcesDir, "keep"), nil, 0644))
	s, err = Create(hclog.NewNullLogger(), Options{BuildRoot: root, LookPath: noTools}, "devel", "foo", "1.0")
	require.NoError(t, err)
	assert.True(t, s.Reused)
	assert.FileExists(t, filepath.Join(s.SourcesDir, "keep"))

	s, err = Create(hclog.NewNullLogger(), Options{BuildRoot: root, LookPath: noTools, Force: true}, "devel", "foo", "1.0")
	require.NoError(t, err)
	assert.False(t, s.Reused)
	assert.NoFileExists(t, filepath.Join(s.SourcesDir, "keep"))
}

func TestCreateRequiredToolMissing(t *testing.T) {
	root := t.TempDir()
	_, err := Create(hclog.NewNullLogger(), Options{
		BuildRoot:        root,
		Namespace:        true,
		RequireNamespace: true,
		LookPath:         noTools,
	}, "devel", "foo", "1.0")
	var tm ErrToolMissing
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "namespace", tm.Layer)
	assert.NoDirExists(t, filepath.Join(root, "devel"))

	_, err = Create(hclog.NewNullLogger(), Options{
		BuildRoot:       root,
		Fakeroot:        true,
		RequireFakeroot: true,
		LookPath:        noTools,
	}, "devel", "foo", "1.0")
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "ownership", tm.Layer)
}

func TestDegradedMode(t *testing.T) {
	s := hostSandbox(t, Options{Namespace: true, Fakeroot: true})
	assert.True(t, s.Degraded())
	assert.Empty(t, s.Layers())
	assert.Equal(t, s.Dir, s.DestDir())
}

func TestLayerWrapping(t *testing.T) {
	root := t.TempDir()
	s, err := Create(hclog.NewNullLogger(), Options{
		BuildRoot:     root,
		Namespace:     true,
		Fakeroot:      true,
		ShareNet:      true,
		ReadOnlyBinds: []string{root, filepath.Join(root, "does-not-exist")},
		LookPath:      allTools,
	}, "devel", "foo", "1.0")
	require.NoError(t, err)
	assert.False(t, s.Degraded())
	assert.Equal(t, []string{"namespace", "ownership"}, s.Layers())
	assert.Equal(t, InstallDir, s.DestDir())

	argv := s.wrap([]string{"make", "install"}, Exec("make", "install"))
	line := strings.Join(argv, " ")
	assert.Equal(t, "/usr/bin/bwrap", argv[0])
	assert.Contains(t, line, "--share-net")
	assert.Contains(t, line, "--ro-bind "+root+" "+root)
	assert.NotContains(t, line, "does-not-exist")
	assert.Contains(t, line, "--bind "+s.Dir+" "+InstallDir)
	assert.Contains(t, line, "--chdir "+s.SourcesDir)
	assert.True(t, strings.HasSuffix(line, "/usr/bin/fakeroot -- make install"))
}

func TestRunCapturesOutput(t *testing.T) {
	var buf bytes.Buffer
	s := hostSandbox(t, Options{Output: &buf, Env: map[string]string{"GREETING": "hello"}})

	res, err := s.Run(context.Background(), Shell(`echo "$GREETING"; echo oops >&2; pwd`))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello\n")
	assert.Contains(t, res.Stdout, s.SourcesDir)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "oops")
}

func TestRunFailure(t *testing.T) {
	s := hostSandbox(t, Options{})
	res, err := s.Run(context.Background(), Shell("echo broken >&2; exit 3"))
	var ce ErrCommand
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "broken")
}

func TestRunTimeout(t *testing.T) {
	s := hostSandbox(t, Options{Timeout: 200 * time.Millisecond})
	_, err := s.Run(context.Background(), Exec("sleep", "10"))
	var te ErrTimeout
	require.ErrorAs(t, err, &te)
}

func TestRunRejectsBadScript(t *testing.T) {
	s := hostSandbox(t, Options{})
	_, err := s.Run(context.Background(), Shell("if then fi ("))
	var se ErrScript
	require.ErrorAs(t, err, &se)

	_, err = s.Run(context.Background(), Command{})
	require.Error(t, err)
}

func TestRunStdin(t *testing.T) {
	s := hostSandbox(t, Options{})
	c := Exec("cat")
	c.Stdin = strings.NewReader("piped\n")
	res, err := s.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "piped\n", res.Stdout)
}

func TestInstallCommand(t *testing.T) {
	s := hostSandbox(t, Options{})

	c := s.installCommand(Exec("make", "install"))
	assert.Equal(t, []string{"make", "install", "DESTDIR=" + s.Dir}, c.Args)
	assert.Equal(t, s.Dir, c.Env["DESTDIR"])

	c = s.installCommand(Exec("python3", "setup.py", "install", "--root=/x"))
	assert.Equal(t, []string{"python3", "setup.py", "install", "--root=/x"}, c.Args)

	c = s.installCommand(Shell("make install"))
	assert.Equal(t, "make install", c.Script)
	assert.Equal(t, s.Dir, c.Env["DESTDIR"])
}

func TestInstallIntoEmptyCommand(t *testing.T) {
	s := hostSandbox(t, Options{})
	assert.NotPanics(t, func() {
		_, err := s.InstallInto(context.Background(), Exec())
		assert.EqualError(t, err, "empty command")
	})
	assert.Empty(t, s.installCommand(Exec()).Args)
}

func TestInstallIntoStagesFiles(t *testing.T) {
	s := hostSandbox(t, Options{})
	_, err := s.InstallInto(context.Background(), Shell(`mkdir -p "$DESTDIR/usr/bin" && echo hi > "$DESTDIR/usr/bin/hi"`))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(s.Dir, "usr", "bin", "hi"))

	require.NoError(t, s.Clean())
	ents, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestSnapshotAndDiff(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "usr", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usr", "bin", "a"), []byte("a"), 0755))

	before, err := Snapshot(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr", "/usr/bin", "/usr/bin/a"}, paths(before))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "usr", "bin", "b"), []byte("bb"), 0644))
	require.NoError(t, os.Symlink("b", filepath.Join(dir, "usr", "bin", "c")))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "usr", "share", "info"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usr", "share", "info", "dir"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usr", "lib.la"), nil, 0644))

	after, err := Snapshot(dir, []string{"/usr/share/info", "**/*.la"})
	require.NoError(t, err)
	added := Diff(before, after)
	assert.Equal(t, []string{"/usr/bin/b", "/usr/bin/c", "/usr/share"}, paths(added))

	assert.Equal(t, types.KindFile, added[0].Kind)
	assert.Equal(t, int64(2), added[0].Size)
	assert.Equal(t, types.KindSymlink, added[1].Kind)
	assert.Equal(t, "b", added[1].LinkTarget)
	assert.Equal(t, types.KindDir, added[2].Kind)
}

func TestNormalizePermissions(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(sub, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "tool"), nil, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "data"), nil, 0600))

	require.NoError(t, NormalizePermissions(dir, 0644, 0755))

	fi, err := os.Stat(sub)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), fi.Mode().Perm())
	fi, err = os.Stat(filepath.Join(sub, "tool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0744), fi.Mode().Perm())
	fi, err = os.Stat(filepath.Join(sub, "data"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), fi.Mode().Perm())
}

func TestDestroy(t *testing.T) {
	s := hostSandbox(t, Options{})
	locked := filepath.Join(s.SourcesDir, "locked")
	require.NoError(t, os.MkdirAll(locked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "f"), nil, 0644))
	require.NoError(t, os.Chmod(locked, 0500))

	require.NoError(t, s.Destroy())
	assert.NoDirExists(t, s.BuildDir)
}

func paths(recs []types.FileRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Path
	}
	return out
}
