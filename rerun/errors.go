package rerun

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aponysus/flakey/flake"
)

// ErrNilUnit is returned by Guard when no unit is supplied.
var ErrNilUnit = errors.New("flakey: nil unit")

// PanicError is a recovered panic from a unit or a listener.
// It is only produced when panic recovery is enabled.
type PanicError struct {
	Component string
	Identity  flake.Identity
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flakey: panic in %s for %s: %v", e.Component, e.Identity, e.Value)
}

// Format prints the recovered stack for %+v.
func (e *PanicError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			if len(e.Stack) > 0 {
				_, _ = io.WriteString(s, "\n")
				_, _ = s.Write(e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// ListenerFailure records one listener that failed to handle a report.
type ListenerFailure struct {
	// Index is the listener's position in registration order.
	Index    int
	Listener string
	Err      error
}

func (f ListenerFailure) Error() string {
	return fmt.Sprintf("listener %d (%s): %v", f.Index, f.Listener, f.Err)
}

func (f ListenerFailure) Unwrap() error { return f.Err }

// NotifyError is returned when one or more listeners fail while a flakey
// verdict is reported.
//
// Original is set when the policy rethrows the original failure, so that
// callers observe both the test failure and the reporting failure. It is nil
// when the flakey failure was suppressed, and always nil in fail-fast mode.
type NotifyError struct {
	Identity flake.Identity
	Failures []ListenerFailure
	Original error
}

func (e *NotifyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flakey: %d listener(s) failed reporting %s", len(e.Failures), e.Identity)
	for _, f := range e.Failures {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	if e.Original != nil {
		fmt.Fprintf(&b, "; original failure: %v", e.Original)
	}
	return b.String()
}

// Unwrap returns every listener error followed by the original failure, if any.
func (e *NotifyError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	if e.Original != nil {
		out = append(out, e.Original)
	}
	return out
}
