package sandbox

// namespaceLayer runs the command under bubblewrap with a private
// view of the filesystem: system directories read-only, the build
// directory read-write at its host path and the sandbox directory at
// InstallDir.
type namespaceLayer struct {
	s   *Sandbox
	bin string
}

func (n *namespaceLayer) Name() string { return "namespace" }

func (n *namespaceLayer) Wrap(argv []string, c Command) []string {
	s := n.s
	out := []string{n.bin, "--unshare-all"}
	if s.shareNet {
		out = append(out, "--share-net")
	}
	out = append(out,
		"--die-with-parent",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--dir", "/run",
	)
	for _, p := range s.roBinds {
		out = append(out, "--ro-bind", p, p)
	}
	out = append(out,
		"--bind", s.BuildDir, s.BuildDir,
		"--bind", s.Dir, InstallDir,
		"--chdir", s.workDir(c),
	)
	return append(out, argv...)
}

// ownershipLayer runs the command under fakeroot so that chown and
// friends succeed and files appear root owned.
type ownershipLayer struct {
	bin string
}

func (o *ownershipLayer) Name() string { return "ownership" }

func (o *ownershipLayer) Wrap(argv []string, c Command) []string {
	return append([]string{o.bin, "--"}, argv...)
}

// wrap applies the layers innermost first so that the first layer
// ends up outermost on the command line.
func (s *Sandbox) wrap(payload []string, c Command) []string {
	argv := payload
	for i := len(s.layers) - 1; i >= 0; i-- {
		argv = s.layers[i].Wrap(argv, c)
	}
	return argv
}

func (s *Sandbox) workDir(c Command) string {
	if c.Dir != "" {
		return c.Dir
	}
	return s.SourcesDir
}
