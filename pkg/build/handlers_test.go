package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-maldridge/nport/pkg/types"
)

func tree(t *testing.T, files ...string) string {
	dir := t.TempDir()
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), nil, 0644))
	}
	return dir
}

func TestDetect(t *testing.T) {
	cases := []struct {
		files []string
		want  types.BuildSystem
	}{
		{[]string{"configure", "CMakeLists.txt"}, types.Autotools},
		{[]string{"autogen.sh"}, types.Autotools},
		{[]string{"CMakeLists.txt", "meson.build"}, types.CMake},
		{[]string{"meson.build"}, types.Meson},
		{[]string{"Cargo.toml"}, types.Cargo},
		{[]string{"pyproject.toml"}, types.SetupScript},
		{[]string{"main.c", "util.c"}, types.CompilerDirect},
		{[]string{"Main.java"}, types.CompilerDirect},
		{[]string{"README"}, types.Custom},
		{nil, types.Custom},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Detect(tree(t, c.files...)), "%v", c.files)
	}
}

func TestAutotoolsCommands(t *testing.T) {
	dir := tree(t, "configure")
	j := Job{
		Desc:    &types.PackageDescriptor{Name: "foo", ConfigureArgs: []string{"--disable-nls"}},
		SrcDir:  dir,
		DestDir: "/install",
		Prefix:  "/usr",
		Jobs:    8,
	}
	h, err := HandlerFor(types.Autotools)
	require.NoError(t, err)

	cfg := h.Configure(j)
	require.Len(t, cfg, 1)
	assert.Equal(t, []string{"./configure", "--prefix=/usr", "--disable-nls"}, cfg[0].Args)
	assert.Equal(t, dir, cfg[0].Dir)
	assert.Equal(t, []string{"make", "-j8"}, h.Compile(j)[0].Args)
	assert.Equal(t, []string{"make", "install"}, h.Install(j)[0].Args)

	j.SrcDir = tree(t, "configure.ac")
	cfg = h.Configure(j)
	require.Len(t, cfg, 2)
	assert.Equal(t, []string{"autoreconf", "-fi"}, cfg[0].Args)
}

func TestDeclaredCommandsOverride(t *testing.T) {
	j := Job{
		Desc:   &types.PackageDescriptor{BuildCommands: []string{"make all"}, InstallCommands: []string{"make inst"}},
		SrcDir: "/src",
		Prefix: "/usr",
	}
	for _, bs := range []types.BuildSystem{types.Autotools, types.CMake, types.Meson, types.Custom} {
		h, err := HandlerFor(bs)
		require.NoError(t, err)
		c := h.Compile(j)
		require.Len(t, c, 1)
		assert.True(t, c[0].Shell)
		assert.Equal(t, "make all", c[0].Script)
		assert.Equal(t, "make inst", h.Install(j)[0].Script)
	}
}

func TestCMakeInstallUsesEnvironment(t *testing.T) {
	h, err := HandlerFor(types.CMake)
	require.NoError(t, err)
	c := h.Install(Job{Desc: &types.PackageDescriptor{}, SrcDir: "/src", Prefix: "/usr"})
	require.Len(t, c, 1)
	assert.True(t, c[0].Shell)
}

func TestCargoInstallRoot(t *testing.T) {
	h, err := HandlerFor(types.Cargo)
	require.NoError(t, err)
	c := h.Install(Job{Desc: &types.PackageDescriptor{}, SrcDir: "/src", DestDir: "/install", Prefix: "/usr"})
	assert.Contains(t, c[0].Args, "--root=/install/usr")
}

func TestHandlerForUnknown(t *testing.T) {
	_, err := HandlerFor(types.BuildSystem("scons"))
	var nh ErrNoHandler
	assert.ErrorAs(t, err, &nh)
}

func TestToolchainEnv(t *testing.T) {
	getenv := func(k string) string {
		if k == "PATH" {
			return "/usr/bin"
		}
		return ""
	}
	env := toolchainEnv("/tools", map[string]string{"PKG_CONFIG_PATH": "/opt/pc"}, getenv)
	assert.Equal(t, "/tools/bin:/usr/bin", env["PATH"])
	assert.Equal(t, "/tools/lib", env["LD_LIBRARY_PATH"])
	assert.Equal(t, "/tools/lib/pkgconfig:/opt/pc", env["PKG_CONFIG_PATH"])
	assert.Nil(t, toolchainEnv("", nil, getenv))
}
