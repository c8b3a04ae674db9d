package rerun

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/policy"
)

// notify hands a copy of report to every listener in registration order.
// It returns the failures (nil if none) and the number of listeners that
// handled the report.
func (e *Executor) notify(ctx context.Context, report flake.Report, mode policy.ListenerMode) (*NotifyError, int) {
	var failures []ListenerFailure
	notified := 0

	for i, l := range e.listeners {
		err := e.callListener(ctx, report.Identity, l, report.Clone())
		if err == nil {
			notified++
			continue
		}

		f := ListenerFailure{Index: i, Listener: fmt.Sprintf("%T", l), Err: err}
		failures = append(failures, f)
		e.logger.WarnContext(ctx, "flakiness listener failed",
			"test", report.Identity.String(),
			"listener", f.Listener,
			"index", i,
			"err", err,
		)
		if mode == policy.ListenerFailFast {
			break
		}
	}

	if len(failures) == 0 {
		return nil, notified
	}
	return &NotifyError{Identity: report.Identity, Failures: failures}, notified
}

// callListener always recovers: a panicking listener is a listener failure
// like any other and must not stop the listeners after it.
func (e *Executor) callListener(ctx context.Context, id flake.Identity, l flake.Listener, report flake.Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Component: "listener",
				Identity:  id,
				Value:     r,
				Stack:     debug.Stack(),
			}
		}
	}()
	return l.HandlePotentialFlakeyness(ctx, report)
}

// joinInterrupted reports the original failure together with the reason the
// reruns stopped.
func joinInterrupted(original, cause error) error {
	return errors.Join(original, cause)
}
