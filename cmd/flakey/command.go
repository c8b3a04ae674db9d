package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/aponysus/flakey/rerun"
)

const tailLines = 20

// CommandError is the failure of one command attempt. Test runners such as
// go test print failures on stdout, so both streams are kept.
type CommandError struct {
	Args       []string
	ExitCode   int
	StdoutTail string
	StderrTail string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	if e.StdoutTail != "" {
		msg += "\nstdout:\n" + e.StdoutTail
	}
	return msg
}

// commandUnit runs args as a subprocess on every attempt. Output is always
// captured, and also copied to out and errOut when they are non-nil.
func commandUnit(args []string, out, errOut io.Writer) rerun.Unit {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = teeTo(&stdout, out)
		cmd.Stderr = teeTo(&stderr, errOut)

		err := cmd.Run()
		if err == nil {
			return nil
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return pkgerrors.Wrapf(err, "start %s", args[0])
		}

		cerr := &CommandError{
			Args:       args,
			ExitCode:   exitErr.ExitCode(),
			StdoutTail: tail(stdout.String(), tailLines),
			StderrTail: tail(stderr.String(), tailLines),
		}
		return pkgerrors.WithStack(cerr)
	}
}

func teeTo(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
