package observe

import (
	"context"
	"sync"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
)

// TimelineCapture collects the timelines of every Guard call made with a
// context returned by RecordTimeline, in completion order. A test suite can
// share one capture across its guarded tests and inspect the flakey ones
// afterwards. It is safe for concurrent use.
type TimelineCapture struct {
	mu        sync.Mutex
	timelines []Timeline
}

// Timeline returns the most recently captured timeline, or nil.
func (c *TimelineCapture) Timeline() *Timeline {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timelines) == 0 {
		return nil
	}
	tl := c.timelines[len(c.timelines)-1]
	return &tl
}

// Timelines returns a copy of every captured timeline.
func (c *TimelineCapture) Timelines() []Timeline {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Timeline, len(c.timelines))
	copy(out, c.timelines)
	return out
}

// Flakey returns the identities whose guard ended with a flakey verdict,
// once per identity, in the order they were first seen.
func (c *TimelineCapture) Flakey() []flake.Identity {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []flake.Identity
	seen := make(map[flake.Identity]bool)
	for _, tl := range c.timelines {
		if tl.Verdict != classify.VerdictFlakey || seen[tl.Identity] {
			continue
		}
		seen[tl.Identity] = true
		out = append(out, tl.Identity)
	}
	return out
}

func (c *TimelineCapture) add(tl *Timeline) {
	if c == nil || tl == nil {
		return
	}
	c.mu.Lock()
	c.timelines = append(c.timelines, *tl)
	c.mu.Unlock()
}

type timelineCaptureKey struct{}

// RecordTimeline returns a derived context that captures the timeline of each
// Guard call made with it, plus the capture holding them.
func RecordTimeline(ctx context.Context) (context.Context, *TimelineCapture) {
	if ctx == nil {
		ctx = context.Background()
	}
	capture := &TimelineCapture{}
	return context.WithValue(ctx, timelineCaptureKey{}, capture), capture
}

// TimelineCaptureFromContext returns the capture, if one was requested.
func TimelineCaptureFromContext(ctx context.Context) (*TimelineCapture, bool) {
	if ctx == nil {
		return nil, false
	}
	switch v := ctx.Value(timelineCaptureKey{}).(type) {
	case *TimelineCapture:
		return v, v != nil
	default:
		return nil, false
	}
}

type disabledTimelineCapture struct{}

// WithoutTimelineCapture disables timeline capture in derived contexts.
//
// The executor uses this for the context passed to the unit, so a guarded
// unit that itself calls Guard does not add to the outer capture.
func WithoutTimelineCapture(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, timelineCaptureKey{}, disabledTimelineCapture{})
}

// StoreTimelineCapture appends a finished timeline to the capture.
func StoreTimelineCapture(capture *TimelineCapture, tl *Timeline) {
	capture.add(tl)
}
