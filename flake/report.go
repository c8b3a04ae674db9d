package flake

import (
	"slices"
	"time"
)

// Report describes one test unit that failed once and then passed often
// enough during reruns to be considered potentially flakey.
type Report struct {
	ID       string
	Identity Identity

	// Original is the failure of the initial attempt.
	Original error

	// RerunCount is the number of reruns that were executed.
	RerunCount int

	// RerunFailures holds the failures observed during reruns, in order.
	// Successful reruns are not listed.
	RerunFailures []error

	DetectedAt time.Time
}

// Successes returns the number of reruns that passed.
func (r Report) Successes() int {
	return r.RerunCount - len(r.RerunFailures)
}

// Clone returns a copy that does not share the rerun failure slice.
func (r Report) Clone() Report {
	r.RerunFailures = slices.Clone(r.RerunFailures)
	return r
}
