package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// ErrToolMissing is returned when a layer is required but its tool
// cannot be found.
type ErrToolMissing struct {
	Layer string
	Tool  string
}

func (e ErrToolMissing) Error() string {
	return fmt.Sprintf("%s layer requires %s which was not found in PATH", e.Layer, e.Tool)
}

// ErrCommand is returned when a command exits unsuccessfully or
// cannot be started.
type ErrCommand struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e ErrCommand) Error() string {
	msg := fmt.Sprintf("command %s failed", display(e.Args))
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e ErrCommand) Unwrap() error {
	return e.Err
}

// ErrTimeout is returned when a command outlives the sandbox
// timeout.
type ErrTimeout struct {
	Args    []string
	Timeout time.Duration
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("command %s timed out after %s", display(e.Args), e.Timeout)
}

// ErrScript is returned for shell text that does not parse.
type ErrScript struct {
	Script string
	Err    error
}

func (e ErrScript) Error() string {
	return "invalid shell script: " + e.Err.Error()
}

func (e ErrScript) Unwrap() error {
	return e.Err
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
