// Package otel records guard calls as OpenTelemetry spans.
//
// Observer annotates the span already in the context with one event per
// attempt and the final verdict. Guard starts that span around a guard call.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/observe"
	"github.com/aponysus/flakey/policy"
	"github.com/aponysus/flakey/rerun"
)

const instrumentationName = "github.com/aponysus/flakey"

const (
	keyGroup         = attribute.Key("flakey.test.group")
	keyName          = attribute.Key("flakey.test.name")
	keyRetries       = attribute.Key("flakey.retries")
	keyThreshold     = attribute.Key("flakey.threshold")
	keyAttempt       = attribute.Key("flakey.attempt")
	keyRerun         = attribute.Key("flakey.rerun")
	keyPassed        = attribute.Key("flakey.passed")
	keyError         = attribute.Key("flakey.error")
	keyVerdict       = attribute.Key("flakey.verdict")
	keyRerunFailures = attribute.Key("flakey.rerun_failures")
	keyNotified      = attribute.Key("flakey.notified")
)

// Observer writes guard progress onto the current span.
type Observer struct{}

func NewObserver() *Observer { return &Observer{} }

func (*Observer) OnStart(ctx context.Context, id flake.Identity, pol policy.Policy) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		keyGroup.String(id.Group),
		keyName.String(id.Name),
		keyRetries.Int(pol.Retries),
		keyThreshold.Int(pol.Threshold),
	)
}

func (*Observer) OnAttempt(ctx context.Context, _ flake.Identity, rec observe.AttemptRecord) {
	attrs := []attribute.KeyValue{
		keyAttempt.Int(rec.Attempt),
		keyRerun.Bool(rec.IsRerun),
		keyPassed.Bool(rec.Err == nil),
	}
	if rec.Err != nil {
		attrs = append(attrs, keyError.String(rec.Err.Error()))
	}
	trace.SpanFromContext(ctx).AddEvent("attempt",
		trace.WithTimestamp(rec.EndTime),
		trace.WithAttributes(attrs...),
	)
}

func (*Observer) OnVerdict(ctx context.Context, _ flake.Identity, verdict classify.Verdict) {
	trace.SpanFromContext(ctx).SetAttributes(keyVerdict.String(verdict.String()))
}

func (*Observer) OnFinish(ctx context.Context, _ flake.Identity, tl observe.Timeline) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		keyRerunFailures.Int(len(tl.RerunFailures())),
		keyNotified.Int(tl.Notified),
	)
	switch {
	case tl.Verdict == classify.VerdictPersistent:
		span.SetStatus(codes.Error, "persistent failure")
	case tl.FinalErr != nil:
		span.SetStatus(codes.Error, tl.FinalErr.Error())
	default:
		span.SetStatus(codes.Ok, "")
	}
}

// Tracer returns the package tracer from tp, or from the global provider if tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// Guard runs exec.Guard inside a "flakey.Guard" span. Wire an Observer into
// exec to get per-attempt events on the span.
func Guard(ctx context.Context, tracer trace.Tracer, exec *rerun.Executor, id flake.Identity, unit rerun.Unit) error {
	if tracer == nil {
		tracer = Tracer(nil)
	}
	ctx, span := tracer.Start(ctx, "flakey.Guard",
		trace.WithAttributes(keyGroup.String(id.Group), keyName.String(id.Name)),
	)
	defer span.End()

	tl, err := exec.GuardWithTimeline(ctx, id, unit)
	span.SetAttributes(keyVerdict.String(tl.Verdict.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
