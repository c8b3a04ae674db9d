package gotest

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// T records the outcome of one attempt of a guarded test body. It mirrors the
// parts of *testing.T that test bodies commonly use; FailNow, Fatal and
// SkipNow stop the attempt the same way they stop a real test.
type T struct {
	parent TB
	ctx    context.Context

	mu       sync.Mutex
	output   []string
	failed   bool
	skipped  bool
	cleanups []func()
}

func newT(parent TB, ctx context.Context) *T {
	return &T{parent: parent, ctx: ctx}
}

func (t *T) Name() string { return t.parent.Name() }

func (t *T) Helper() {}

// Context is canceled when the enclosing test ends. It carries the
// observe.AttemptInfo of the current attempt.
func (t *T) Context() context.Context { return t.ctx }

// TempDir returns a fresh directory owned by the enclosing test.
func (t *T) TempDir() string { return t.parent.TempDir() }

func (t *T) Log(args ...any) { t.log(fmt.Sprintln(args...)) }

func (t *T) Logf(format string, args ...any) { t.log(fmt.Sprintf(format, args...)) }

func (t *T) Error(args ...any) {
	t.log(fmt.Sprintln(args...))
	t.Fail()
}

func (t *T) Errorf(format string, args ...any) {
	t.log(fmt.Sprintf(format, args...))
	t.Fail()
}

func (t *T) Fatal(args ...any) {
	t.log(fmt.Sprintln(args...))
	t.FailNow()
}

func (t *T) Fatalf(format string, args ...any) {
	t.log(fmt.Sprintf(format, args...))
	t.FailNow()
}

func (t *T) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
}

func (t *T) FailNow() {
	t.Fail()
	runtime.Goexit()
}

func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

func (t *T) Skip(args ...any) {
	t.log(fmt.Sprintln(args...))
	t.SkipNow()
}

func (t *T) Skipf(format string, args ...any) {
	t.log(fmt.Sprintf(format, args...))
	t.SkipNow()
}

func (t *T) SkipNow() {
	t.mu.Lock()
	t.skipped = true
	t.mu.Unlock()
	runtime.Goexit()
}

func (t *T) Skipped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}

// Cleanup registers f to run when the attempt finishes, in last-added order.
func (t *T) Cleanup(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanups = append(t.cleanups, f)
}

func (t *T) log(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = append(t.output, strings.TrimSuffix(s, "\n"))
}

func (t *T) runCleanups() {
	t.mu.Lock()
	fns := t.cleanups
	t.cleanups = nil
	t.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (t *T) snapshot() (output []string, failed, skipped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.output...), t.failed, t.skipped
}

// runAttempt executes fn on its own goroutine so that FailNow and SkipNow can
// end it with runtime.Goexit.
func runAttempt(parent TB, ctx context.Context, fn func(*T)) *T {
	t := newT(parent, ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer t.runCleanups()
		defer func() {
			if r := recover(); r != nil {
				t.log(fmt.Sprintf("panic: %v\n%s", r, debug.Stack()))
				t.Fail()
			}
		}()
		fn(t)
	}()
	<-done
	return t
}
