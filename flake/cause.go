package flake

import (
	"fmt"

	"github.com/pkg/errors"
)

// Cause is the printable form of a failure: its Go type, its message and,
// when the error carries one, a stack trace.
type Cause struct {
	Class      string `json:"exceptionClass"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
}

// NewCause describes err. The class is taken from the innermost cause
// reachable through errors.Cause so that stack-annotating wrappers do not
// hide the real error type.
func NewCause(err error) Cause {
	if err == nil {
		return Cause{}
	}
	return Cause{
		Class:      fmt.Sprintf("%T", errors.Cause(err)),
		Message:    err.Error(),
		StackTrace: fmt.Sprintf("%+v", err),
	}
}
