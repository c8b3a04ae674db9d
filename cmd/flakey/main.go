// Command flakey reruns a failing command to tell flakey failures from real
// ones.
//
//	flakey run --retries 5 --threshold 1 --report-dir reports -- go test ./pkg/...
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries a process exit code out of a cobra command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "flakey:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "flakey:", err)
	return exitUsage
}
