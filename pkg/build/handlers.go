package build

import (
	"strconv"

	"github.com/the-maldridge/nport/pkg/sandbox"
	"github.com/the-maldridge/nport/pkg/types"
)

var handlers = map[types.BuildSystem]Handler{
	types.Autotools:      autotools{},
	types.CMake:          cmake{},
	types.Meson:          meson{},
	types.Cargo:          cargo{},
	types.SetupScript:    setupScript{},
	types.CompilerDirect: compilerDirect{},
	types.Custom:         custom{},
}

// RegisterHandler replaces the handler of a build system.  The set of
// build systems is fixed, only how each is driven can change.
func RegisterHandler(bs types.BuildSystem, h Handler) {
	handlers[bs] = h
}

// HandlerFor returns the handler of bs.
func HandlerFor(bs types.BuildSystem) (Handler, error) {
	h, ok := handlers[bs]
	if !ok {
		return nil, ErrNoHandler{bs}
	}
	return h, nil
}

// commands returns the declared commands of a port as shell commands
// run in the source directory.
func commands(j Job, scripts []string) []sandbox.Command {
	out := make([]sandbox.Command, 0, len(scripts))
	for _, s := range scripts {
		c := sandbox.Shell(s)
		c.Dir = j.SrcDir
		out = append(out, c)
	}
	return out
}

func inSrc(j Job, args ...string) sandbox.Command {
	c := sandbox.Exec(args...)
	c.Dir = j.SrcDir
	return c
}

func shellInSrc(j Job, script string) sandbox.Command {
	c := sandbox.Shell(script)
	c.Dir = j.SrcDir
	return c
}

func jobsFlag(j Job) string {
	n := j.Jobs
	if n < 1 {
		n = 1
	}
	return "-j" + strconv.Itoa(n)
}

// overrides lets declared build and install commands take precedence
// over what a handler would do.
func compileOr(j Job, f func() []sandbox.Command) []sandbox.Command {
	if len(j.Desc.BuildCommands) > 0 {
		return commands(j, j.Desc.BuildCommands)
	}
	return f()
}

func installOr(j Job, f func() []sandbox.Command) []sandbox.Command {
	if len(j.Desc.InstallCommands) > 0 {
		return commands(j, j.Desc.InstallCommands)
	}
	return f()
}

type autotools struct{}

func (autotools) Configure(j Job) []sandbox.Command {
	var out []sandbox.Command
	switch {
	case exists(j.SrcDir, "configure"):
	case exists(j.SrcDir, "autogen.sh"):
		out = append(out, inSrc(j, "sh", "./autogen.sh"))
	default:
		out = append(out, inSrc(j, "autoreconf", "-fi"))
	}
	args := append([]string{"./configure", "--prefix=" + j.Prefix}, j.Desc.ConfigureArgs...)
	return append(out, inSrc(j, args...))
}

func (autotools) Compile(j Job) []sandbox.Command {
	return compileOr(j, func() []sandbox.Command {
		return []sandbox.Command{inSrc(j, "make", jobsFlag(j))}
	})
}

func (autotools) Install(j Job) []sandbox.Command {
	return installOr(j, func() []sandbox.Command {
		return []sandbox.Command{inSrc(j, "make", "install")}
	})
}

type cmake struct{}

func (cmake) Configure(j Job) []sandbox.Command {
	args := []string{
		"cmake", "-S", ".", "-B", "build",
		"-DCMAKE_INSTALL_PREFIX=" + j.Prefix,
		"-DCMAKE_BUILD_TYPE=Release",
	}
	return []sandbox.Command{inSrc(j, append(args, j.Desc.ConfigureArgs...)...)}
}

func (cmake) Compile(j Job) []sandbox.Command {
	return compileOr(j, func() []sandbox.Command {
		return []sandbox.Command{inSrc(j, "cmake", "--build", "build", jobsFlag(j))}
	})
}

func (cmake) Install(j Job) []sandbox.Command {
	// cmake --install reads DESTDIR from the environment only.
	return installOr(j, func() []sandbox.Command {
		return []sandbox.Command{shellInSrc(j, "cmake --install build")}
	})
}

type meson struct{}

func (meson) Configure(j Job) []sandbox.Command {
	args := []string{"meson", "setup", "build", "--prefix=" + j.Prefix, "--buildtype=release"}
	return []sandbox.Command{inSrc(j, append(args, j.Desc.ConfigureArgs...)...)}
}

func (meson) Compile(j Job) []sandbox.Command {
	return compileOr(j, func() []sandbox.Command {
		return []sandbox.Command{inSrc(j, "meson", "compile", "-C", "build", jobsFlag(j))}
	})
}

func (meson) Install(j Job) []sandbox.Command {
	return installOr(j, func() []sandbox.Command {
		return []sandbox.Command{shellInSrc(j, "meson install -C build --no-rebuild")}
	})
}

type cargo struct{}

func (cargo) Configure(Job) []sandbox.Command { return nil }

func (cargo) Compile(j Job) []sandbox.Command {
	return compileOr(j, func() []sandbox.Command {
		args := append([]string{"cargo", "build", "--release", jobsFlag(j)}, j.Desc.ConfigureArgs...)
		return []sandbox.Command{inSrc(j, args...)}
	})
}

func (cargo) Install(j Job) []sandbox.Command {
	return installOr(j, func() []sandbox.Command {
		return []sandbox.Command{inSrc(j, "cargo", "install", "--path", ".", "--no-track", "--root="+j.DestDir+j.Prefix)}
	})
}

type setupScript struct{}

func (setupScript) Configure(Job) []sandbox.Command { return nil }

func (setupScript) Compile(j Job) []sandbox.Command {
	return compileOr(j, func() []sandbox.Command {
		if exists(j.SrcDir, "setup.py") {
			return []sandbox.Command{inSrc(j, "python3", "setup.py", "build")}
		}
		return nil
	})
}

func (setupScript) Install(j Job) []sandbox.Command {
	return installOr(j, func() []sandbox.Command {
		if exists(j.SrcDir, "setup.py") {
			return []sandbox.Command{inSrc(j, "python3", "setup.py", "install", "--root="+j.DestDir, "--prefix="+j.Prefix)}
		}
		return []sandbox.Command{inSrc(j, "python3", "-m", "pip", "install", "--no-deps", "--no-build-isolation", "--root="+j.DestDir, "--prefix="+j.Prefix, ".")}
	})
}

// compilerDirect builds trees that carry only sources.  C files are
// linked into one program named after the port, Java files are
// compiled and jarred.
type compilerDirect struct{}

func (compilerDirect) Configure(Job) []sandbox.Command { return nil }

func (compilerDirect) Compile(j Job) []sandbox.Command {
	return compileOr(j, func() []sandbox.Command {
		if hasExt(j.SrcDir, ".c") {
			return []sandbox.Command{shellInSrc(j, `${CC:-cc} ${CFLAGS:--O2} -o `+quote(j.Desc.Name)+` *.c ${LDFLAGS}`)}
		}
		return []sandbox.Command{shellInSrc(j, `javac -d classes *.java && jar cf `+quote(j.Desc.Name+".jar")+` -C classes .`)}
	})
}

func (compilerDirect) Install(j Job) []sandbox.Command {
	return installOr(j, func() []sandbox.Command {
		if hasExt(j.SrcDir, ".c") {
			return []sandbox.Command{shellInSrc(j, `install -Dm755 `+quote(j.Desc.Name)+` "$DESTDIR`+j.Prefix+`/bin/`+j.Desc.Name+`"`)}
		}
		jar := j.Desc.Name + ".jar"
		return []sandbox.Command{shellInSrc(j, `install -Dm644 `+quote(jar)+` "$DESTDIR`+j.Prefix+`/share/java/`+jar+`"`)}
	})
}

// custom runs only what the port declares.
type custom struct{}

func (custom) Configure(Job) []sandbox.Command { return nil }

func (custom) Compile(j Job) []sandbox.Command {
	return commands(j, j.Desc.BuildCommands)
}

func (custom) Install(j Job) []sandbox.Command {
	return commands(j, j.Desc.InstallCommands)
}
