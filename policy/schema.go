package policy

import (
	"time"
)

// ListenerMode controls what happens when a listener fails while a flakey
// verdict is being reported.
type ListenerMode string

const (
	// ListenerIsolate notifies every listener even if earlier ones fail and
	// reports all failures together.
	ListenerIsolate ListenerMode = "isolate"

	// ListenerFailFast stops at the first failing listener. The listener error
	// replaces the original test failure.
	ListenerFailFast ListenerMode = "fail_fast"
)

type Source string

const (
	SourceUnknown  Source = "unknown"
	SourceDefault  Source = "default"
	SourceStatic   Source = "static"
	SourceFile     Source = "file"
	SourceOverride Source = "override"
)

type NormalizationInfo struct {
	Changed       bool     `json:"-"`
	ChangedFields []string `json:"-"`
}

type Metadata struct {
	Source        Source            `json:"-"`
	Normalization NormalizationInfo `json:"-"`
}

// Policy is the immutable rerun configuration handed to an executor.
type Policy struct {
	// Retries is the number of reruns after an initial failure.
	Retries int `json:"retries" yaml:"retries" validate:"gte=0"`

	// Threshold is the number of successful reruns that must be exceeded for
	// a failure to be attributed to flakiness.
	Threshold int `json:"threshold" yaml:"threshold" validate:"gte=0"`

	// Wait is slept before every rerun.
	Wait time.Duration `json:"wait" yaml:"wait" validate:"gte=0"`

	// RethrowOriginal reports a flakey test as failed anyway. When false a
	// flakey test is reported to listeners and then appears to have passed.
	RethrowOriginal bool `json:"rethrow_original" yaml:"rethrow_original"`

	ListenerMode ListenerMode `json:"listener_mode" yaml:"listener_mode" validate:"omitempty,oneof=isolate fail_fast"`

	Meta Metadata `json:"-" yaml:"-"`
}

const (
	DefaultRetries   = 10
	DefaultThreshold = 1
)

// Default returns the stock policy: ten reruns, threshold one, no wait, and
// the original failure rethrown.
func Default() Policy {
	return Policy{
		Retries:         DefaultRetries,
		Threshold:       DefaultThreshold,
		Wait:            0,
		RethrowOriginal: true,
		ListenerMode:    ListenerIsolate,
		Meta: Metadata{
			Source: SourceDefault,
		},
	}
}

// CanDetectFlakiness reports whether any rerun outcome could produce a flakey
// verdict under the threshold rule. It is false whenever Threshold >= Retries.
func (p Policy) CanDetectFlakiness() bool {
	return p.Retries-p.Threshold > 0
}

// Normalize clamps negative values to zero and fills in the listener mode.
// An unknown listener mode is an error.
func (p Policy) Normalize() (Policy, error) {
	normalized := p
	norm := &normalized.Meta.Normalization

	markChanged := func(field string) {
		norm.Changed = true
		for _, f := range norm.ChangedFields {
			if f == field {
				return
			}
		}
		norm.ChangedFields = append(norm.ChangedFields, field)
	}

	if normalized.Retries < 0 {
		normalized.Retries = 0
		markChanged("retries")
	}
	if normalized.Threshold < 0 {
		normalized.Threshold = 0
		markChanged("threshold")
	}
	if normalized.Wait < 0 {
		normalized.Wait = 0
		markChanged("wait")
	}

	switch normalized.ListenerMode {
	case "":
		normalized.ListenerMode = ListenerIsolate
		markChanged("listener_mode")
	case ListenerIsolate, ListenerFailFast:
	default:
		return Policy{}, &NormalizeError{Field: "listener_mode", Value: string(normalized.ListenerMode)}
	}

	if normalized.Meta.Source == "" {
		normalized.Meta.Source = SourceUnknown
	}

	return normalized, nil
}

// IsZero reports whether p is the zero Policy, as opposed to an explicit
// policy with no reruns.
func (p Policy) IsZero() bool {
	return p.Retries == 0 &&
		p.Threshold == 0 &&
		p.Wait == 0 &&
		!p.RethrowOriginal &&
		p.ListenerMode == "" &&
		p.Meta.Source == ""
}
