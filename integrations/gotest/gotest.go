// Package gotest guards Go test bodies against flakiness.
//
//	func TestUpload(t *testing.T) {
//		gotest.Run(t, func(t *gotest.T) {
//			...
//		}, rerun.WithPolicyOptions(policy.RethrowOriginal(false)), rerun.LogToStdout())
//	}
//
// A failing body is rerun; a flakey failure is reported to the executor's
// listeners and, when the policy suppresses it, the test passes.
package gotest

import (
	"context"
	"runtime"
	"strings"

	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/observe"
	"github.com/aponysus/flakey/rerun"
)

// TB is the part of *testing.T that Run needs.
type TB interface {
	Helper()
	Name() string
	Context() context.Context
	TempDir() string
	Skip(args ...any)
	Fatalf(format string, args ...any)
}

// Failure is the error produced by a failed attempt. It carries the
// attempt's log output.
type Failure struct {
	Output []string
}

func (f *Failure) Error() string {
	if len(f.Output) == 0 {
		return "test failed"
	}
	return strings.Join(f.Output, "\n")
}

// Run guards fn with an executor built from opts. The identity is the
// caller's package name and t.Name().
func Run(t TB, fn func(t *T), opts ...rerun.ExecutorOption) {
	t.Helper()
	RunAs(t, flake.Identity{Group: callerPackage(2), Name: t.Name()}, fn, opts...)
}

// RunAs is Run with an explicit identity.
func RunAs(t TB, id flake.Identity, fn func(t *T), opts ...rerun.ExecutorOption) {
	t.Helper()

	var skipped []string
	err := rerun.NewExecutor(opts...).Guard(t.Context(), id, func(ctx context.Context) error {
		attempt := runAttempt(t, ctx, fn)
		output, failed, skip := attempt.snapshot()
		if failed {
			return &Failure{Output: output}
		}
		if skip {
			if info, ok := observe.AttemptFromContext(ctx); ok && !info.IsRerun {
				skipped = output
				if skipped == nil {
					skipped = []string{}
				}
			}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("%s", err)
		return
	}
	if skipped != nil {
		t.Skip(strings.Join(skipped, "\n"))
	}
}

func callerPackage(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	return packageName(fn.Name())
}

// packageName extracts "pkg" from "example.com/mod/pkg.TestX.func1".
func packageName(funcName string) string {
	base := funcName
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}
