package policy

import "time"

// Option configures a Policy.
type Option func(*Policy)

// New returns Default() with opts applied and normalized. An unknown listener
// mode falls back to ListenerIsolate and is recorded in
// Meta.Normalization.ChangedFields; every other option is kept. Use Build to
// get the error instead.
func New(opts ...Option) Policy {
	p, err := Build(opts...)
	if err == nil {
		return p
	}
	p = apply(opts)
	p.ListenerMode = ListenerIsolate
	normalized, _ := p.Normalize()
	normalized.Meta.Normalization.Changed = true
	normalized.Meta.Normalization.ChangedFields = append(normalized.Meta.Normalization.ChangedFields, "listener_mode")
	return normalized
}

// Build is New, but returns a *NormalizeError when the options describe an
// invalid policy.
func Build(opts ...Option) (Policy, error) {
	return apply(opts).Normalize()
}

func apply(opts []Option) Policy {
	p := Default()
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	if p.Meta.Source == SourceDefault && len(opts) > 0 {
		p.Meta.Source = SourceStatic
	}
	return p
}

// Retries sets the number of reruns after an initial failure. Default 10.
func Retries(n int) Option {
	return func(p *Policy) {
		p.Retries = n
	}
}

// Threshold sets how many reruns must pass, exclusive, before a failure is
// considered flakey. Default 1.
func Threshold(n int) Option {
	return func(p *Policy) {
		p.Threshold = n
	}
}

// Wait sets the pause before each rerun.
func Wait(d time.Duration) Option {
	return func(p *Policy) {
		p.Wait = d
	}
}

// WaitFor sets the pause before each rerun as n units.
func WaitFor(n int, unit TimeUnit) Option {
	return Wait(unit.Duration(n))
}

// RethrowOriginal sets whether a flakey test still fails with its original
// error. Default true.
func RethrowOriginal(rethrow bool) Option {
	return func(p *Policy) {
		p.RethrowOriginal = rethrow
	}
}

// NotifyMode selects how listener failures are handled.
func NotifyMode(mode ListenerMode) Option {
	return func(p *Policy) {
		p.ListenerMode = mode
	}
}

// Quick is a preset for local development: three reruns, any passing rerun
// marks the test flakey.
func Quick() Option {
	return func(p *Policy) {
		p.Retries = 3
		p.Threshold = 0
	}
}
