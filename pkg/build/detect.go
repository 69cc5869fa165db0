package build

import (
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/the-maldridge/nport/pkg/types"
)

var markers = []struct {
	files []string
	bs    types.BuildSystem
}{
	{[]string{"configure", "configure.ac", "autogen.sh"}, types.Autotools},
	{[]string{"CMakeLists.txt"}, types.CMake},
	{[]string{"meson.build"}, types.Meson},
	{[]string{"Cargo.toml"}, types.Cargo},
	{[]string{"setup.py", "pyproject.toml"}, types.SetupScript},
}

// Detect guesses the build system of the tree at dir from its marker
// files, falling back to looking at source file extensions.
func Detect(dir string) types.BuildSystem {
	for _, m := range markers {
		for _, f := range m.files {
			if exists(dir, f) {
				return m.bs
			}
		}
	}
	if hasExt(dir, ".c") || hasExt(dir, ".java") {
		return types.CompilerDirect
	}
	return types.Custom
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

func hasExt(dir, ext string) bool {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			return true
		}
	}
	return false
}

func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "'" + s + "'"
	}
	return q
}
