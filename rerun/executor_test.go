package rerun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/listener"
	"github.com/aponysus/flakey/policy"
)

func TestGuard_PassFirstTime(t *testing.T) {
	counter := &listener.Counter{}
	exec, sleeps := newTestExecutor(policy.Default(), WithListener(counter))
	unit := script()

	if err := exec.Guard(context.Background(), testID, unit.unit); err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
	if unit.count() != 1 {
		t.Fatalf("calls=%d, want 1", unit.count())
	}
	if counter.Count() != 0 {
		t.Fatalf("notifications=%d, want 0", counter.Count())
	}
	if len(sleeps.durations) != 0 {
		t.Fatalf("sleeps=%v, want none", sleeps.durations)
	}
}

func TestGuard_FlakeyDefaultPolicy(t *testing.T) {
	counter := &listener.Counter{}
	exec, _ := newTestExecutor(policy.Default(), WithListener(counter))
	original := errors.New("first run failed")
	unit := script(original)

	err := exec.Guard(context.Background(), testID, unit.unit)
	if err != original {
		t.Fatalf("err=%v, want the original error itself", err)
	}
	if unit.count() != 11 {
		t.Fatalf("calls=%d, want 11", unit.count())
	}

	reports := counter.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports=%d, want 1", len(reports))
	}
	r := reports[0]
	if r.Identity != testID || r.Original != original || r.RerunCount != 10 || len(r.RerunFailures) != 0 {
		t.Fatalf("report=%+v", r)
	}
	if r.ID == "" {
		t.Fatalf("expected report id")
	}
}

func TestGuard_AlternatingSuppressed(t *testing.T) {
	counter := &listener.Counter{}
	pol := policy.New(policy.Retries(5), policy.Threshold(0), policy.RethrowOriginal(false))
	exec, _ := newTestExecutor(pol, WithListener(counter))

	f1, f2 := errors.New("rerun 2"), errors.New("rerun 4")
	unit := script(errors.New("initial"), nil, f1, nil, f2, nil)

	if err := exec.Guard(context.Background(), testID, unit.unit); err != nil {
		t.Fatalf("err=%v, want nil (suppressed flake)", err)
	}
	if unit.count() != 6 {
		t.Fatalf("calls=%d, want 6", unit.count())
	}
	reports := counter.Reports()
	if len(reports) != 1 {
		t.Fatalf("reports=%d, want 1", len(reports))
	}
	got := reports[0].RerunFailures
	if len(got) != 2 || got[0] != f1 || got[1] != f2 {
		t.Fatalf("rerun failures=%v, want [rerun 2, rerun 4] in order", got)
	}
	if reports[0].Successes() != 3 {
		t.Fatalf("successes=%d, want 3", reports[0].Successes())
	}
}

func TestGuard_ZeroRetriesIsPersistent(t *testing.T) {
	counter := &listener.Counter{}
	exec, _ := newTestExecutor(policy.New(policy.Retries(0), policy.Threshold(0)), WithListener(counter))
	original := errors.New("boom")
	unit := script(original)

	if err := exec.Guard(context.Background(), testID, unit.unit); err != original {
		t.Fatalf("err=%v, want original", err)
	}
	if unit.count() != 1 {
		t.Fatalf("calls=%d, want 1", unit.count())
	}
	if counter.Count() != 0 {
		t.Fatalf("notifications=%d, want 0", counter.Count())
	}
}

func TestGuard_PersistentReturnsOriginalNotRerunError(t *testing.T) {
	for _, rethrow := range []bool{true, false} {
		counter := &listener.Counter{}
		exec, _ := newTestExecutor(policy.New(policy.RethrowOriginal(rethrow)), WithListener(counter))
		unit := failN(11)

		err := exec.Guard(context.Background(), testID, unit.unit)
		if err == nil || err.Error() != "failure 0" {
			t.Fatalf("rethrow=%v: err=%v, want failure 0", rethrow, err)
		}
		if unit.count() != 11 {
			t.Fatalf("rethrow=%v: calls=%d, want 11", rethrow, unit.count())
		}
		if counter.Count() != 0 {
			t.Fatalf("rethrow=%v: notifications=%d, want 0", rethrow, counter.Count())
		}
	}
}

func TestGuard_ThresholdBoundary(t *testing.T) {
	cases := []struct {
		name       string
		failures   int
		wantFlakey bool
	}{
		{name: "eight_rerun_failures", failures: 9, wantFlakey: true},
		{name: "nine_rerun_failures", failures: 10, wantFlakey: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			counter := &listener.Counter{}
			exec, _ := newTestExecutor(policy.Default(), WithListener(counter))
			tl, err := exec.GuardWithTimeline(context.Background(), testID, failN(tc.failures).unit)
			if err == nil {
				t.Fatalf("expected original error")
			}
			if got := counter.Count() == 1; got != tc.wantFlakey {
				t.Fatalf("flakey=%v, want %v", got, tc.wantFlakey)
			}
			want := classify.VerdictPersistent
			if tc.wantFlakey {
				want = classify.VerdictFlakey
			}
			if tl.Verdict != want {
				t.Fatalf("verdict=%v, want %v", tl.Verdict, want)
			}
		})
	}
}

func TestGuard_ThresholdAtLeastRetriesNeverFlakey(t *testing.T) {
	counter := &listener.Counter{}
	exec, _ := newTestExecutor(policy.New(policy.Retries(3), policy.Threshold(3)), WithListener(counter))
	unit := script(errors.New("once"))

	if err := exec.Guard(context.Background(), testID, unit.unit); err == nil {
		t.Fatalf("expected original error")
	}
	if unit.count() != 4 {
		t.Fatalf("calls=%d, want 4", unit.count())
	}
	if counter.Count() != 0 {
		t.Fatalf("notifications=%d, want 0", counter.Count())
	}
}

func TestGuard_NotifiesInOrderBeforeReturning(t *testing.T) {
	var order []string
	a := &recordingListener{name: "a", log: &order}
	b := &recordingListener{name: "b", log: &order}
	exec, _ := newTestExecutor(policy.Default(), WithListeners(a, nil, b))

	err := exec.Guard(context.Background(), testID, script(errors.New("x")).unit)
	order = append(order, "returned")

	if err == nil {
		t.Fatalf("expected original error")
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "returned" {
		t.Fatalf("order=%v, want [a b returned]", order)
	}
}

func TestGuard_ListenersReceiveIndependentCopies(t *testing.T) {
	mutator := flake.ListenerFunc(func(_ context.Context, r flake.Report) error {
		r.RerunFailures[0] = nil
		return nil
	})
	after := &recordingListener{}
	exec, _ := newTestExecutor(policy.New(policy.Retries(3), policy.Threshold(0)), WithListeners(mutator, after))

	_ = exec.Guard(context.Background(), testID, failN(2).unit)

	if len(after.reports) != 1 || after.reports[0].RerunFailures[0] == nil {
		t.Fatalf("second listener saw a mutated report: %+v", after.reports)
	}
}

func TestGuard_WaitBeforeEachRerun(t *testing.T) {
	exec, sleeps := newTestExecutor(policy.New(policy.Retries(3), policy.WaitFor(250, policy.Milliseconds)))

	_ = exec.Guard(context.Background(), testID, script(errors.New("x")).unit)

	if len(sleeps.durations) != 3 {
		t.Fatalf("sleeps=%v, want 3", sleeps.durations)
	}
	for i, d := range sleeps.durations {
		if d != 250*time.Millisecond {
			t.Fatalf("sleep[%d]=%v, want 250ms", i, d)
		}
	}
}

func TestGuard_ZeroWaitNeverSleeps(t *testing.T) {
	exec, sleeps := newTestExecutor(policy.Default())
	_ = exec.Guard(context.Background(), testID, failN(11).unit)
	if len(sleeps.durations) != 0 {
		t.Fatalf("sleeps=%v, want none", sleeps.durations)
	}
}

func TestGuard_CancelledDuringWait(t *testing.T) {
	counter := &listener.Counter{}
	exec, sleeps := newTestExecutor(policy.New(policy.Retries(5), policy.Threshold(0), policy.Wait(time.Second)), WithListener(counter))
	sleeps.failAt = 2
	sleeps.err = context.Canceled

	original := errors.New("x")
	unit := script(original)
	tl, err := exec.GuardWithTimeline(context.Background(), testID, unit.unit)

	if !errors.Is(err, original) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want original joined with context.Canceled", err)
	}
	if unit.count() != 2 {
		t.Fatalf("calls=%d, want 2", unit.count())
	}
	if counter.Count() != 0 {
		t.Fatalf("notifications=%d, want 0", counter.Count())
	}
	if tl.Verdict != classify.VerdictPersistent {
		t.Fatalf("verdict=%v, want persistent", tl.Verdict)
	}
}

func TestGuard_ListenerIsolate(t *testing.T) {
	var order []string
	bad := &recordingListener{name: "bad", log: &order, err: errListener}
	good := &recordingListener{name: "good", log: &order}
	original := errors.New("x")

	t.Run("rethrow", func(t *testing.T) {
		order = nil
		exec, _ := newTestExecutor(policy.Default(), WithListeners(bad, good))
		tl, err := exec.GuardWithTimeline(context.Background(), testID, script(original).unit)

		var ne *NotifyError
		if !errors.As(err, &ne) {
			t.Fatalf("err=%T %v, want *NotifyError", err, err)
		}
		if len(ne.Failures) != 1 || ne.Failures[0].Index != 0 {
			t.Fatalf("failures=%+v", ne.Failures)
		}
		if !errors.Is(err, errListener) || !errors.Is(err, original) {
			t.Fatalf("err=%v should unwrap to listener error and original", err)
		}
		if len(order) != 2 {
			t.Fatalf("order=%v, want both listeners called", order)
		}
		if tl.Notified != 1 {
			t.Fatalf("notified=%d, want 1", tl.Notified)
		}
	})

	t.Run("suppressed", func(t *testing.T) {
		order = nil
		exec, _ := newTestExecutor(policy.New(policy.RethrowOriginal(false)), WithListeners(bad, good))
		err := exec.Guard(context.Background(), testID, script(original).unit)

		var ne *NotifyError
		if !errors.As(err, &ne) {
			t.Fatalf("err=%v, want *NotifyError instead of silent success", err)
		}
		if ne.Original != nil || errors.Is(err, original) {
			t.Fatalf("suppressed flake must not carry the original: %v", err)
		}
	})
}

func TestGuard_ListenerFailFast(t *testing.T) {
	var order []string
	bad := &recordingListener{name: "bad", log: &order, err: errListener}
	good := &recordingListener{name: "good", log: &order}
	original := errors.New("x")

	exec, _ := newTestExecutor(policy.New(policy.NotifyMode(policy.ListenerFailFast)), WithListeners(bad, good))
	err := exec.Guard(context.Background(), testID, script(original).unit)

	if !errors.Is(err, errListener) {
		t.Fatalf("err=%v, want listener error", err)
	}
	if errors.Is(err, original) {
		t.Fatalf("fail-fast replaces the original error: %v", err)
	}
	if len(order) != 1 || order[0] != "bad" {
		t.Fatalf("order=%v, want only the failing listener", order)
	}
}

func TestGuard_RecoverPanics(t *testing.T) {
	t.Run("unit", func(t *testing.T) {
		counter := &listener.Counter{}
		exec, _ := newTestExecutor(policy.Default(), WithListener(counter), WithRecoverPanics(true))
		calls := 0
		err := exec.Guard(context.Background(), testID, func(context.Context) error {
			calls++
			if calls == 1 {
				panic("nil map write")
			}
			return nil
		})

		var pe *PanicError
		if !errors.As(err, &pe) {
			t.Fatalf("err=%v, want *PanicError", err)
		}
		if pe.Component != "unit" || pe.Identity != testID || len(pe.Stack) == 0 {
			t.Fatalf("panic error=%+v", pe)
		}
		if counter.Count() != 1 {
			t.Fatalf("notifications=%d, want 1", counter.Count())
		}
	})

	t.Run("listener", func(t *testing.T) {
		boom := flake.ListenerFunc(func(context.Context, flake.Report) error { panic("listener bug") })
		exec, _ := newTestExecutor(policy.New(policy.RethrowOriginal(false)), WithListener(boom), WithRecoverPanics(true))
		err := exec.Guard(context.Background(), testID, script(errors.New("x")).unit)

		var pe *PanicError
		if !errors.As(err, &pe) || pe.Component != "listener" {
			t.Fatalf("err=%v, want listener *PanicError", err)
		}
	})
}

func TestGuard_ListenerPanicRecoveredByDefault(t *testing.T) {
	boom := flake.ListenerFunc(func(context.Context, flake.Report) error { panic("listener bug") })
	later := &recordingListener{name: "later"}
	exec, _ := newTestExecutor(policy.Default(), WithListeners(boom, later))

	original := errors.New("first run failed")
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("listener panic escaped Guard: %v", r)
			}
		}()
		err = exec.Guard(context.Background(), testID, script(original).unit)
	}()

	if len(later.reports) != 1 {
		t.Fatalf("later listener reports=%d, want 1", len(later.reports))
	}
	var ne *NotifyError
	if !errors.As(err, &ne) {
		t.Fatalf("err=%v, want *NotifyError", err)
	}
	if len(ne.Failures) != 1 || ne.Failures[0].Index != 0 {
		t.Fatalf("failures=%+v, want one failure at index 0", ne.Failures)
	}
	var pe *PanicError
	if !errors.As(ne.Failures[0].Err, &pe) || pe.Component != "listener" || pe.Value != "listener bug" {
		t.Fatalf("failure err=%v, want listener *PanicError", ne.Failures[0].Err)
	}
	if !errors.Is(err, original) {
		t.Fatalf("err=%v, want original failure in chain", err)
	}
}

func TestGuard_NilUnitAndExecutor(t *testing.T) {
	var exec *Executor
	if err := exec.Guard(context.Background(), testID, nil); !errors.Is(err, ErrNilUnit) {
		t.Fatalf("err=%v, want ErrNilUnit", err)
	}
	if err := exec.Guard(nil, testID, script().unit); err != nil {
		t.Fatalf("err=%v, want nil", err)
	}

	zero := &Executor{}
	unit := script(errors.New("x"))
	if err := zero.Guard(context.Background(), testID, unit.unit); err == nil {
		t.Fatalf("expected original error from zero executor")
	}
	if unit.count() != 11 {
		t.Fatalf("zero executor calls=%d, want default 11", unit.count())
	}
}

func TestGuard_RepeatedCallsAreIndependent(t *testing.T) {
	counter := &listener.Counter{}
	exec, _ := newTestExecutor(policy.Default(), WithListener(counter))

	for i := 0; i < 2; i++ {
		_ = exec.Guard(context.Background(), testID, script(errors.New("x")).unit)
	}
	reports := counter.Reports()
	if len(reports) != 2 {
		t.Fatalf("reports=%d, want 2", len(reports))
	}
	if reports[0].ID == reports[1].ID {
		t.Fatalf("report ids must differ")
	}
	if reports[0].RerunCount != 10 || reports[1].RerunCount != 10 {
		t.Fatalf("rerun counts=%d,%d, want 10,10", reports[0].RerunCount, reports[1].RerunCount)
	}
}

func TestGuard_PackageLevel(t *testing.T) {
	counter := &listener.Counter{}
	err := Guard(context.Background(), testID, script(errors.New("x")).unit,
		WithPolicyOptions(policy.Quick(), policy.RethrowOriginal(false)),
		WithListener(counter),
	)
	if err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
	if counter.Count() != 1 {
		t.Fatalf("notifications=%d, want 1", counter.Count())
	}
}

func TestGuard_CustomClassifier(t *testing.T) {
	counter := &listener.Counter{}
	passed := classify.ClassifierFunc(func(classify.Evidence) classify.Verdict { return classify.VerdictPassed })
	exec, _ := newTestExecutor(policy.Default(), WithListener(counter), WithClassifier(passed))

	tl, err := exec.GuardWithTimeline(context.Background(), testID, script(errors.New("x")).unit)
	if err == nil || tl.Verdict != classify.VerdictPersistent {
		t.Fatalf("verdict=%v err=%v, want persistent with original", tl.Verdict, err)
	}
	if counter.Count() != 0 {
		t.Fatalf("notifications=%d, want 0", counter.Count())
	}
}

func TestNewExecutor_InvalidPolicyFallsBack(t *testing.T) {
	bad := policy.Policy{Retries: 2, ListenerMode: "sometimes", Meta: policy.Metadata{Source: policy.SourceStatic}}
	exec := NewExecutor(WithPolicy(bad))

	if got := exec.Policy(); got.Retries != policy.DefaultRetries || got.ListenerMode != policy.ListenerIsolate {
		t.Fatalf("policy=%+v, want defaults", got)
	}
	tl, _ := exec.GuardWithTimeline(context.Background(), testID, script().unit)
	if tl.Attributes["policy_error"] == "" {
		t.Fatalf("expected policy_error attribute, got %v", tl.Attributes)
	}
}

func TestNewExecutor_NormalizesNegatives(t *testing.T) {
	exec := NewExecutor(WithPolicyOptions(policy.Retries(-3), policy.Wait(-time.Second)))
	if p := exec.Policy(); p.Retries != 0 || p.Wait != 0 {
		t.Fatalf("policy=%+v, want clamped", p)
	}
}

func TestGuard_DropsTypedNilListeners(t *testing.T) {
	var missing *recordingListener
	live := &recordingListener{name: "live"}
	exec, _ := newTestExecutor(policy.Default(), WithListeners(missing, live, nil))

	if err := exec.Guard(context.Background(), testID, failN(1).unit); err == nil {
		t.Fatalf("err=nil, want original failure rethrown")
	}
	if len(live.reports) != 1 {
		t.Fatalf("live listener reports=%d, want 1", len(live.reports))
	}
	if len(exec.listeners) != 1 {
		t.Fatalf("listeners=%d, want 1", len(exec.listeners))
	}
}

func TestWithPolicy_ZeroValueMeansDefault(t *testing.T) {
	unset := NewExecutor(WithPolicy(policy.Policy{}))
	if got := unset.Policy().Retries; got != policy.DefaultRetries {
		t.Fatalf("zero policy retries=%d, want %d", got, policy.DefaultRetries)
	}

	explicit := NewExecutor(WithPolicy(policy.New(policy.Retries(0))))
	if got := explicit.Policy().Retries; got != 0 {
		t.Fatalf("explicit retries=%d, want 0", got)
	}
}
