package observe

import (
	"context"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/internal"
	"github.com/aponysus/flakey/policy"
)

// BaseObserver implements Observer with no-op methods.
//
// Users can embed BaseObserver to implement only the callbacks they need.
type BaseObserver struct{}

func (BaseObserver) OnStart(context.Context, flake.Identity, policy.Policy)      {}
func (BaseObserver) OnAttempt(context.Context, flake.Identity, AttemptRecord)    {}
func (BaseObserver) OnVerdict(context.Context, flake.Identity, classify.Verdict) {}
func (BaseObserver) OnFinish(context.Context, flake.Identity, Timeline)          {}

// MultiObserver fans out events to multiple observers. Nil entries,
// including typed nils such as a nil *Metrics, are skipped.
type MultiObserver struct {
	Observers []Observer
}

func (m MultiObserver) OnStart(ctx context.Context, id flake.Identity, pol policy.Policy) {
	for _, o := range m.Observers {
		if !internal.IsTypedNil(o) {
			o.OnStart(ctx, id, pol)
		}
	}
}

func (m MultiObserver) OnAttempt(ctx context.Context, id flake.Identity, rec AttemptRecord) {
	for _, o := range m.Observers {
		if !internal.IsTypedNil(o) {
			o.OnAttempt(ctx, id, rec)
		}
	}
}

func (m MultiObserver) OnVerdict(ctx context.Context, id flake.Identity, verdict classify.Verdict) {
	for _, o := range m.Observers {
		if !internal.IsTypedNil(o) {
			o.OnVerdict(ctx, id, verdict)
		}
	}
}

func (m MultiObserver) OnFinish(ctx context.Context, id flake.Identity, tl Timeline) {
	for _, o := range m.Observers {
		if !internal.IsTypedNil(o) {
			o.OnFinish(ctx, id, tl)
		}
	}
}
