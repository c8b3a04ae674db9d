package rerun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/observe"
	"github.com/aponysus/flakey/policy"
)

var testID = flake.Identity{Group: "store", Name: "TestPut"}

// scripted returns a unit that yields results in order and passes once they
// are exhausted.
type scripted struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func script(results ...error) *scripted {
	return &scripted{results: results}
}

// failN fails the first n calls with distinct errors.
func failN(n int) *scripted {
	results := make([]error, n)
	for i := range results {
		results[i] = fmt.Errorf("failure %d", i)
	}
	return script(results...)
}

func (s *scripted) unit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i]
	}
	return nil
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingListener struct {
	name    string
	log     *[]string
	err     error
	reports []flake.Report
}

func (l *recordingListener) HandlePotentialFlakeyness(_ context.Context, r flake.Report) error {
	l.reports = append(l.reports, r)
	if l.log != nil {
		*l.log = append(*l.log, l.name)
	}
	return l.err
}

type sleepRecorder struct {
	durations []time.Duration
	failAt    int
	err       error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	if s.err != nil && len(s.durations) == s.failAt {
		return s.err
	}
	return nil
}

func newTestExecutor(pol policy.Policy, opts ...ExecutorOption) (*Executor, *sleepRecorder) {
	exec := NewExecutor(append([]ExecutorOption{WithPolicy(pol)}, opts...)...)
	rec := &sleepRecorder{}
	exec.sleep = rec.sleep
	return exec, rec
}

type testObserver struct {
	events   []string
	attempts []observe.AttemptRecord
	verdict  classify.Verdict
	finished []observe.Timeline
}

func (o *testObserver) OnStart(context.Context, flake.Identity, policy.Policy) {
	o.events = append(o.events, "start")
}

func (o *testObserver) OnAttempt(_ context.Context, _ flake.Identity, rec observe.AttemptRecord) {
	o.events = append(o.events, "attempt")
	o.attempts = append(o.attempts, rec)
}

func (o *testObserver) OnVerdict(_ context.Context, _ flake.Identity, v classify.Verdict) {
	o.events = append(o.events, "verdict")
	o.verdict = v
}

func (o *testObserver) OnFinish(_ context.Context, _ flake.Identity, tl observe.Timeline) {
	o.events = append(o.events, "finish")
	o.finished = append(o.finished, tl)
}

var errListener = errors.New("listener down")
