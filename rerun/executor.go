// Package rerun guards test units against flakiness: a failing unit is rerun
// a configured number of times and, if enough reruns pass, the failure is
// reported to listeners as potentially flakey.
package rerun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/internal"
	"github.com/aponysus/flakey/listener"
	"github.com/aponysus/flakey/observe"
	"github.com/aponysus/flakey/policy"
)

// Unit is one execution of the test body. A nil return is a pass.
type Unit func(ctx context.Context) error

type Executor struct {
	policy        policy.Policy
	policyErr     error
	listeners     []flake.Listener
	observer      observe.Observer
	classifier    classify.Classifier
	clock         quartz.Clock
	sleep         func(context.Context, time.Duration) error
	logger        *slog.Logger
	newID         func() string
	recoverPanics bool
}

type executorConfig struct {
	opts ExecutorOptions
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Policy is normalized on construction. The zero Policy means policy.Default().
	Policy policy.Policy

	// Listeners are notified in order. Nil entries are dropped.
	Listeners []flake.Listener

	Observer   observe.Observer
	Classifier classify.Classifier
	Clock      quartz.Clock
	Logger     *slog.Logger

	// NewReportID generates Report.ID. Defaults to random UUIDs.
	NewReportID func() string

	RecoverPanics bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

// NewExecutor creates an Executor with default options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	cfg := &executorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return NewExecutorFromOptions(cfg.opts)
}

// NewExecutorFromOptions creates an Executor from a config struct.
func NewExecutorFromOptions(opts ExecutorOptions) *Executor {
	e := &Executor{
		observer:      opts.Observer,
		classifier:    opts.Classifier,
		clock:         opts.Clock,
		logger:        opts.Logger,
		newID:         opts.NewReportID,
		recoverPanics: opts.RecoverPanics,
	}

	for _, l := range opts.Listeners {
		if !internal.IsTypedNil(l) {
			e.listeners = append(e.listeners, l)
		}
	}
	if internal.IsTypedNil(e.observer) {
		e.observer = observe.NoopObserver{}
	}
	if internal.IsTypedNil(e.classifier) {
		e.classifier = classify.Threshold{}
	}
	if e.clock == nil {
		e.clock = quartz.NewReal()
	}
	if e.sleep == nil {
		e.sleep = sleepWithClock(e.clock)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}

	pol := opts.Policy
	if pol.IsZero() {
		pol = policy.Default()
	}
	normalized, err := pol.Normalize()
	if err != nil {
		e.policyErr = err
		e.logger.Warn("invalid rerun policy, using defaults", "err", err)
		normalized, _ = policy.Default().Normalize()
	}
	e.policy = normalized

	if !e.policy.CanDetectFlakiness() {
		e.logger.Warn("rerun policy can never classify a test as flakey",
			"retries", e.policy.Retries,
			"threshold", e.policy.Threshold,
		)
	}

	return e
}

// Policy returns the normalized policy the executor runs with.
func (e *Executor) Policy() policy.Policy {
	if e == nil {
		p, _ := policy.Default().Normalize()
		return p
	}
	return e.policy
}

// WithPolicy sets the rerun policy.
//
// The zero policy.Policy{} means "not configured" and is replaced by
// policy.Default(), which reruns ten times. To disable reruns, build the
// policy with policy.New(policy.Retries(0)); its Meta.Source marks it as
// explicit.
func WithPolicy(p policy.Policy) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Policy = p
	}
}

// WithPolicyOptions builds the rerun policy from policy options.
func WithPolicyOptions(opts ...policy.Option) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Policy = policy.New(opts...)
	}
}

// WithListener appends a listener.
func WithListener(l flake.Listener) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Listeners = append(c.opts.Listeners, l)
	}
}

// WithListeners appends listeners in order.
func WithListeners(ls ...flake.Listener) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Listeners = append(c.opts.Listeners, ls...)
	}
}

// LogToStdout appends a listener that prints each flakey report to stdout.
func LogToStdout() ExecutorOption {
	return WithListener(listener.NewPrinter(os.Stdout))
}

// WithObserver sets the observer.
func WithObserver(o observe.Observer) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Observer = o
	}
}

// WithClassifier replaces the threshold classifier.
func WithClassifier(cls classify.Classifier) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Classifier = cls
	}
}

// WithClock sets the clock used for waits and timestamps.
func WithClock(clock quartz.Clock) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Clock = clock
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.Logger = l
	}
}

// WithReportIDs sets the Report.ID generator.
func WithReportIDs(f func() string) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.NewReportID = f
	}
}

// WithRecoverPanics sets whether panics in the unit are captured as
// *PanicError failures instead of crashing the caller. Listener panics are
// always recovered and reported through *NotifyError.
func WithRecoverPanics(recover bool) ExecutorOption {
	return func(c *executorConfig) {
		c.opts.RecoverPanics = recover
	}
}

// Guard runs unit with a fresh executor built from opts.
func Guard(ctx context.Context, id flake.Identity, unit Unit, opts ...ExecutorOption) error {
	return NewExecutor(opts...).Guard(ctx, id, unit)
}

// Guard runs unit once and, if it fails, reruns it to decide whether the
// failure is flakey.
//
// A passing unit returns nil. A persistent failure returns the original error.
// A flakey failure is reported to every listener and then returns the
// original error, or nil when the policy does not rethrow it. Errors from
// reruns are never returned.
func (e *Executor) Guard(ctx context.Context, id flake.Identity, unit Unit) error {
	_, err := e.GuardWithTimeline(ctx, id, unit)
	return err
}

// GuardWithTimeline is Guard that also returns the record of every attempt.
func (e *Executor) GuardWithTimeline(ctx context.Context, id flake.Identity, unit Unit) (observe.Timeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	exec := e.ready()

	capture, _ := observe.TimelineCaptureFromContext(ctx)
	tl, err := exec.guard(ctx, id, unit)
	if capture != nil {
		observe.StoreTimelineCapture(capture, &tl)
	}
	return tl, err
}

func (e *Executor) ready() *Executor {
	if e == nil {
		return NewExecutor()
	}
	if e.observer == nil || e.classifier == nil || e.clock == nil || e.sleep == nil || e.logger == nil || e.newID == nil {
		rebuilt := NewExecutorFromOptions(ExecutorOptions{
			Policy:        e.policy,
			Listeners:     e.listeners,
			Observer:      e.observer,
			Classifier:    e.classifier,
			Clock:         e.clock,
			Logger:        e.logger,
			NewReportID:   e.newID,
			RecoverPanics: e.recoverPanics,
		})
		if e.sleep != nil {
			rebuilt.sleep = e.sleep
		}
		return rebuilt
	}
	return e
}

func (e *Executor) guard(ctx context.Context, id flake.Identity, unit Unit) (observe.Timeline, error) {
	pol := e.policy
	tl := observe.Timeline{
		Identity:   id,
		Start:      e.clock.Now(),
		Attributes: e.policyAttributes(),
		Attempts:   make([]observe.AttemptRecord, 0, 1),
	}
	e.observer.OnStart(ctx, id, pol)

	finish := func(verdict classify.Verdict, err error) (observe.Timeline, error) {
		tl.Verdict = verdict
		tl.End = e.clock.Now()
		tl.FinalErr = err
		e.observer.OnFinish(ctx, id, tl)
		return tl, err
	}

	if unit == nil {
		return finish(classify.VerdictUnknown, ErrNilUnit)
	}

	log := e.logger.With("test", id.String())
	unitCtx := observe.WithoutTimelineCapture(ctx)

	original := e.attempt(unitCtx, id, unit, &tl, 0, 0)
	if original == nil {
		e.observer.OnVerdict(ctx, id, classify.VerdictPassed)
		return finish(classify.VerdictPassed, nil)
	}
	log.DebugContext(ctx, "initial attempt failed, rerunning", "retries", pol.Retries, "err", original)

	failures := make([]error, 0, pol.Retries)
	reruns := 0
	for i := 1; i <= pol.Retries; i++ {
		if pol.Wait > 0 {
			if err := e.sleep(ctx, pol.Wait); err != nil {
				log.WarnContext(ctx, "rerun wait interrupted", "reruns", reruns, "err", err)
				e.observer.OnVerdict(ctx, id, classify.VerdictPersistent)
				return finish(classify.VerdictPersistent, joinInterrupted(original, err))
			}
		}
		reruns++
		if err := e.attempt(unitCtx, id, unit, &tl, i, pol.Wait); err != nil {
			failures = append(failures, err)
		}
	}

	verdict := e.decide(pol, failures)
	e.observer.OnVerdict(ctx, id, verdict)
	if verdict != classify.VerdictFlakey {
		log.DebugContext(ctx, "failure is persistent", "reruns", reruns, "rerun_failures", len(failures))
		return finish(classify.VerdictPersistent, original)
	}

	report := flake.Report{
		ID:            e.newID(),
		Identity:      id,
		Original:      original,
		RerunCount:    reruns,
		RerunFailures: failures,
		DetectedAt:    e.clock.Now(),
	}
	log.InfoContext(ctx, "test is potentially flakey",
		"report_id", report.ID,
		"reruns", reruns,
		"rerun_failures", len(failures),
		"rethrow", pol.RethrowOriginal,
	)

	notifyErr, notified := e.notify(ctx, report, pol.ListenerMode)
	tl.Notified = notified

	var result error
	if pol.RethrowOriginal {
		result = original
	}
	if notifyErr != nil {
		if pol.ListenerMode != policy.ListenerFailFast {
			notifyErr.Original = result
		}
		result = notifyErr
	}
	return finish(classify.VerdictFlakey, result)
}

func (e *Executor) attempt(ctx context.Context, id flake.Identity, unit Unit, tl *observe.Timeline, attempt int, wait time.Duration) error {
	info := observe.AttemptInfo{Attempt: attempt, IsRerun: attempt > 0}
	rec := observe.AttemptRecord{
		Attempt:   attempt,
		IsRerun:   info.IsRerun,
		StartTime: e.clock.Now(),
	}
	if info.IsRerun {
		rec.Wait = wait
	}

	err := e.runUnit(observe.WithAttemptInfo(ctx, info), id, unit)

	rec.EndTime = e.clock.Now()
	rec.Err = err
	tl.Attempts = append(tl.Attempts, rec)
	e.observer.OnAttempt(ctx, id, rec)
	e.logger.DebugContext(ctx, "attempt finished",
		"test", id.String(),
		"attempt", attempt,
		"rerun", info.IsRerun,
		"passed", err == nil,
	)
	return err
}

func (e *Executor) runUnit(ctx context.Context, id flake.Identity, unit Unit) (err error) {
	if e.recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{
					Component: "unit",
					Identity:  id,
					Value:     r,
					Stack:     debug.Stack(),
				}
			}
		}()
	}
	return unit(ctx)
}

func (e *Executor) decide(pol policy.Policy, failures []error) classify.Verdict {
	ev := classify.Evidence{
		Retries:       pol.Retries,
		Threshold:     pol.Threshold,
		RerunFailures: failures,
	}
	if e.classifier.Classify(ev) == classify.VerdictFlakey {
		return classify.VerdictFlakey
	}
	return classify.VerdictPersistent
}

func (e *Executor) policyAttributes() map[string]string {
	attrs := map[string]string{
		"policy_source": string(e.policy.Meta.Source),
		"retries":       fmt.Sprint(e.policy.Retries),
		"threshold":     fmt.Sprint(e.policy.Threshold),
		"listener_mode": string(e.policy.ListenerMode),
	}
	if e.policy.Wait > 0 {
		attrs["wait"] = e.policy.Wait.String()
	}
	if n := e.policy.Meta.Normalization; n.Changed {
		attrs["policy_normalized"] = fmt.Sprint(n.ChangedFields)
	}
	if e.policyErr != nil {
		attrs["policy_error"] = e.policyErr.Error()
	}
	return attrs
}
