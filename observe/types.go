package observe

import (
	"context"
	"time"

	"github.com/aponysus/flakey/classify"
	"github.com/aponysus/flakey/flake"
	"github.com/aponysus/flakey/policy"
)

// AttemptRecord describes a single execution of the guarded unit.
type AttemptRecord struct {
	Attempt   int
	IsRerun   bool
	StartTime time.Time
	EndTime   time.Time

	// Wait is the pause taken before this attempt.
	Wait time.Duration

	// Err is nil when the attempt passed.
	Err error
}

// Passed reports whether the attempt succeeded.
func (r AttemptRecord) Passed() bool { return r.Err == nil }

// Timeline is the structured record of a single Guard call and all of its attempts.
type Timeline struct {
	Identity flake.Identity
	Start    time.Time
	End      time.Time

	// Attributes holds call-level metadata (policy source, normalization notes, etc.).
	Attributes map[string]string

	Attempts []AttemptRecord
	Verdict  classify.Verdict

	// Notified is the number of listeners that handled the report successfully.
	Notified int
	FinalErr error
}

// RerunFailures returns the errors of the failed reruns, in order.
func (tl Timeline) RerunFailures() []error {
	var out []error
	for _, rec := range tl.Attempts {
		if rec.IsRerun && rec.Err != nil {
			out = append(out, rec.Err)
		}
	}
	return out
}

// Observer receives lifecycle callbacks for a single Guard call.
type Observer interface {
	OnStart(ctx context.Context, id flake.Identity, pol policy.Policy)
	OnAttempt(ctx context.Context, id flake.Identity, rec AttemptRecord)
	OnVerdict(ctx context.Context, id flake.Identity, verdict classify.Verdict)
	OnFinish(ctx context.Context, id flake.Identity, tl Timeline)
}
