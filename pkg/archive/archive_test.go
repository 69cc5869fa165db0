package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-maldridge/nport/pkg/types"
)

type member struct {
	name string
	body string
	link string
	dir  bool
}

func writeTarGz(t *testing.T, path string, members []member) {
	t.Helper()
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0644}
		switch {
		case m.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		case m.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = m.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(m.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestDetect(t *testing.T) {
	cases := map[string]Format{
		"foo-1.0.tar.gz":  FormatTarGz,
		"foo-1.0.TGZ":     FormatTarGz,
		"foo.tar.bz2":     FormatTarBz2,
		"foo.tar.xz":      FormatTarXz,
		"foo.tar.zst":     FormatTarZstd,
		"foo.tar":         FormatTar,
		"foo.zip":         FormatZip,
		"fix-build.patch": FormatPlain,
	}
	for name, want := range cases {
		assert.Equal(t, want, Detect(name), name)
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	arc := filepath.Join(dir, "foo-1.0.tar.gz")
	writeTarGz(t, arc, []member{
		{name: "foo-1.0/", dir: true},
		{name: "foo-1.0/configure", body: "#!/bin/sh\n"},
		{name: "foo-1.0/src/main.c", body: "int main(){}"},
		{name: "foo-1.0/link", link: "configure"},
	})

	dest := filepath.Join(dir, "out")
	require.NoError(t, Extract(arc, dest))
	assert.FileExists(t, filepath.Join(dest, "foo-1.0", "src", "main.c"))
	target, err := os.Readlink(filepath.Join(dest, "foo-1.0", "link"))
	require.NoError(t, err)
	assert.Equal(t, "configure", target)

	root, err := SourceRoot(dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "foo-1.0"), root)
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	arc := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, arc, []member{{name: "../../etc/passwd", body: "x"}})

	err := Extract(arc, filepath.Join(dir, "out"))
	var up ErrUnsafePath
	require.ErrorAs(t, err, &up)
	assert.Equal(t, "../../etc/passwd", up.Member)
}

func TestExtractRejectsWritesThroughSymlinks(t *testing.T) {
	outside := t.TempDir()
	cases := map[string][]member{
		"absolute link": {
			{name: "pkg/link", link: outside},
			{name: "pkg/link/planted", body: "x"},
		},
		"escaping link": {
			{name: "pkg/link", link: "../../../" + filepath.Base(outside)},
			{name: "pkg/link/planted", body: "x"},
		},
		"member below a link": {
			{name: "pkg/real/", dir: true},
			{name: "pkg/link", link: "real"},
			{name: "pkg/link/planted", body: "x"},
		},
	}
	for name, members := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			arc := filepath.Join(dir, "evil.tar.gz")
			writeTarGz(t, arc, members)

			err := Extract(arc, filepath.Join(dir, "out"))
			var up ErrUnsafePath
			require.ErrorAs(t, err, &up)
			assert.NoFileExists(t, filepath.Join(outside, "planted"))
		})
	}
}

func TestExtractRejectsFilesBelowExistingLink(t *testing.T) {
	outside := t.TempDir()
	dir := t.TempDir()
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "pkg")))

	arc := filepath.Join(dir, "a.zip")
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create("pkg/planted")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(arc, buf.Bytes(), 0644))

	err = Extract(arc, dest)
	var up ErrUnsafePath
	require.ErrorAs(t, err, &up)
	assert.NoFileExists(t, filepath.Join(outside, "planted"))
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	arc := filepath.Join(dir, "foo.zip")
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create("a/b.txt")
	require.NoError(t, err)
	w.Write([]byte("hello"))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(arc, buf.Bytes(), 0644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, Extract(arc, dest))
	got, err := os.ReadFile(filepath.Join(dest, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestExtractPlainFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "extra.patch")
	require.NoError(t, os.WriteFile(src, []byte("diff"), 0644))
	dest := filepath.Join(dir, "out")
	require.NoError(t, Extract(src, dest))
	assert.FileExists(t, filepath.Join(dest, "extra.patch"))
}

func TestSourceRootMixed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Makefile"), nil, 0644))
	root, err := SourceRoot(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestCopyTreeSkipsGit(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git", "objects"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "src", "x.c"), []byte("x"), 0600))
	require.NoError(t, os.Symlink("src/x.c", filepath.Join(src, "x")))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyTree(src, dst))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
	assert.FileExists(t, filepath.Join(dst, "src", "x.c"))
	link, err := os.Readlink(filepath.Join(dst, "x"))
	require.NoError(t, err)
	assert.Equal(t, "src/x.c", link)
}

func TestPackageRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", "foo"), []byte("binary"), 0755))
	files := []types.FileRecord{
		{Path: "/usr", Kind: types.KindDir, Mode: 0755},
		{Path: "/usr/bin", Kind: types.KindDir, Mode: 0755},
		{Path: "/usr/bin/foo", Kind: types.KindFile, Mode: 0755, Size: 6},
	}

	out := filepath.Join(t.TempDir(), "pkgs", PackageName("foo", "1.0"))
	built := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, Package(root, files, Props{Name: "foo", Version: "1.0", BuildDate: built}, out))

	props, err := ReadProps(out)
	require.NoError(t, err)
	assert.Equal(t, "foo", props.Name)
	assert.Equal(t, "1.0", props.Version)
	assert.Equal(t, []string{"/usr", "/usr/bin", "/usr/bin/foo"}, props.Files)
	assert.Equal(t, int64(6), props.InstalledSize)
	assert.True(t, built.Equal(props.BuildDate))

	dest := t.TempDir()
	require.NoError(t, Extract(out, dest))
	got, err := os.ReadFile(filepath.Join(dest, "usr", "bin", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(got))

	idx := NewIndex(hclog.NewNullLogger())
	require.NoError(t, idx.Load(filepath.Dir(out)))
	assert.Equal(t, 1, idx.Count())
	e, ok := idx.Get("foo")
	require.True(t, ok)
	assert.Equal(t, out, e.Path)
	assert.Equal(t, []string{"foo"}, idx.Names())
}
