// Package prometheus exports flakiness metrics. Metrics is both a
// flake.Listener (counting flakey reports) and an observe.Observer (counting
// attempts and verdicts), so one value can be wired into both executor slots.
package prometheus

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/observe"
	"github.com/aponysus/flakey/policy"
)

const defaultNamespace = "flakey"

type Metrics struct {
	flakeyTests   *prometheus.CounterVec
	rerunFailures *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	guardDuration prometheus.Histogram
}

// Option configures Metrics.
type Option func(*config)

type config struct {
	namespace string
	buckets   []float64
}

// WithNamespace overrides the "flakey" metric namespace.
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithDurationBuckets sets the guard duration histogram buckets, in seconds.
func WithDurationBuckets(buckets []float64) Option {
	return func(c *config) {
		c.buckets = buckets
	}
}

// NewMetrics registers the collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, opts ...Option) *Metrics {
	cfg := config{namespace: defaultNamespace, buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		flakeyTests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "tests_total",
			Help:      "Tests classified as potentially flakey.",
		}, []string{"group", "name"}),
		rerunFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "rerun_failures_total",
			Help:      "Failed reruns of tests that were classified as flakey.",
		}, []string{"group", "name"}),
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "attempts_total",
			Help:      "Executions of guarded test units.",
		}, []string{"result", "rerun"}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "verdicts_total",
			Help:      "Guard outcomes by verdict.",
		}, []string{"verdict"}),
		guardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "guard_duration_seconds",
			Help:      "Wall time of a guard call including all reruns.",
			Buckets:   cfg.buckets,
		}),
	}
}

func (m *Metrics) HandlePotentialFlakeyness(_ context.Context, report flake.Report) error {
	m.flakeyTests.WithLabelValues(report.Identity.Group, report.Identity.Name).Inc()
	m.rerunFailures.WithLabelValues(report.Identity.Group, report.Identity.Name).Add(float64(len(report.RerunFailures)))
	return nil
}

func (m *Metrics) OnStart(context.Context, flake.Identity, policy.Policy) {}

func (m *Metrics) OnAttempt(_ context.Context, _ flake.Identity, rec observe.AttemptRecord) {
	result := "pass"
	if rec.Err != nil {
		result = "fail"
	}
	m.attempts.WithLabelValues(result, strconv.FormatBool(rec.IsRerun)).Inc()
}

func (m *Metrics) OnVerdict(_ context.Context, _ flake.Identity, verdict classify.Verdict) {
	m.verdicts.WithLabelValues(verdict.String()).Inc()
}

func (m *Metrics) OnFinish(_ context.Context, _ flake.Identity, tl observe.Timeline) {
	if tl.End.IsZero() || tl.Start.IsZero() {
		return
	}
	m.guardDuration.Observe(tl.End.Sub(tl.Start).Seconds())
}

// WriteTextfile writes the metrics gathered by g in the node_exporter
// textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return prometheus.WriteToTextfile(path, g)
}
