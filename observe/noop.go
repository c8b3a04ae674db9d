package observe

import (
	"context"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/policy"
)

// NoopObserver implements Observer with no-op methods.
type NoopObserver struct{}

func (NoopObserver) OnStart(context.Context, flake.Identity, policy.Policy)      {}
func (NoopObserver) OnAttempt(context.Context, flake.Identity, AttemptRecord)    {}
func (NoopObserver) OnVerdict(context.Context, flake.Identity, classify.Verdict) {}
func (NoopObserver) OnFinish(context.Context, flake.Identity, Timeline)          {}
