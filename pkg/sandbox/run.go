package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

// tailSize bounds how much of each output stream a Result keeps.
const tailSize = 64 << 10

// Exec builds a direct command.
func Exec(args ...string) Command {
	return Command{Args: args}
}

// Shell builds a command that is interpreted by sh.
func Shell(script string) Command {
	return Command{Shell: true, Script: script}
}

// Validate checks that a shell script parses.  Direct commands must
// carry at least one argument.
func (c Command) Validate() error {
	if !c.Shell {
		if len(c.Args) == 0 {
			return errors.New("empty command")
		}
		return nil
	}
	if strings.TrimSpace(c.Script) == "" {
		return errors.New("empty script")
	}
	if _, err := syntax.NewParser().Parse(strings.NewReader(c.Script), "script"); err != nil {
		return ErrScript{Script: c.Script, Err: err}
	}
	return nil
}

func (c Command) payload() []string {
	if c.Shell {
		return []string{"sh", "-e", "-c", c.Script}
	}
	return c.Args
}

// Run executes c through the sandbox layers.  Output is streamed to
// the logger and the configured writer while it runs.
func (s *Sandbox) Run(ctx context.Context, c Command) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{Args: c.payload()}, err
	}
	argv := s.wrap(c.payload(), c)
	res := Result{Args: argv}

	rctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(rctx, argv[0], argv[1:]...)
	if !s.isolated {
		cmd.Dir = s.workDir(c)
	}
	cmd.Env = s.environ(c)
	cmd.Stdin = c.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, ErrCommand{Args: argv, ExitCode: -1, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, ErrCommand{Args: argv, ExitCode: -1, Err: err}
	}

	s.l.Debug("Running command", "cmd", display(c.payload()), "dir", s.workDir(c))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, ErrCommand{Args: argv, ExitCode: -1, Err: err}
	}

	outTail := &tail{}
	errTail := &tail{}
	var wg sync.WaitGroup
	wg.Add(2)
	go s.drain(&wg, stdout, outTail, "stdout")
	go s.drain(&wg, stderr, errTail, "stderr")
	wg.Wait()

	err = cmd.Wait()
	res.Duration = time.Since(start)
	res.Stdout = outTail.String()
	res.Stderr = errTail.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return res, ErrTimeout{Args: argv, Timeout: s.timeout}
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, ErrCommand{Args: argv, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res, ErrCommand{Args: argv, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	s.l.Trace("Command finished", "cmd", display(c.payload()), "duration", res.Duration)
	return res, nil
}

// InstallInto runs c as a staging install targeting the sandbox
// directory.
func (s *Sandbox) InstallInto(ctx context.Context, c Command) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{Args: c.payload()}, err
	}
	return s.Run(ctx, s.installCommand(c))
}

// destTokens are arguments that already name an install destination.
var destTokens = []string{"DESTDIR=", "--root=", "--prefix=", "--destdir="}

// installCommand exports DESTDIR and, for direct commands that don't
// name a destination themselves, appends DESTDIR=<dest>.
func (s *Sandbox) installCommand(c Command) Command {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env["DESTDIR"] = s.DestDir()
	c.Env = env

	if c.Shell || len(c.Args) == 0 {
		return c
	}
	for _, a := range c.Args[1:] {
		for _, t := range destTokens {
			if strings.HasPrefix(a, t) {
				return c
			}
		}
	}
	args := make([]string, len(c.Args), len(c.Args)+1)
	copy(args, c.Args)
	c.Args = append(args, "DESTDIR="+s.DestDir())
	return c
}

func (s *Sandbox) environ(c Command) []string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	for k, v := range s.env {
		vars[k] = v
	}
	for k, v := range c.Env {
		vars[k] = v
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (s *Sandbox) drain(wg *sync.WaitGroup, r io.Reader, t *tail, stream string) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		t.WriteLine(line)
		s.l.Trace(line, "stream", stream)
		if s.output != nil {
			s.outMu.Lock()
			fmt.Fprintln(s.output, line)
			s.outMu.Unlock()
		}
	}
	// Anything left in the pipe after an overlong line is discarded so
	// the child never blocks on a full pipe.
	io.Copy(io.Discard, r)
}

// tail keeps the last tailSize bytes written to it.
type tail struct {
	b []byte
}

func (t *tail) WriteLine(line string) {
	t.b = append(t.b, line...)
	t.b = append(t.b, '\n')
	if over := len(t.b) - tailSize; over > 0 {
		t.b = append(t.b[:0], t.b[over:]...)
	}
}

func (t *tail) String() string {
	return string(t.b)
}

// display renders argv the way a shell would accept it back.
func display(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			q = fmt.Sprintf("%q", a)
		}
		parts[i] = q
	}
	return strings.Join(parts, " ")
}
