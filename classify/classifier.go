// Package classify decides whether a failed test unit is flakey from the
// outcome of its reruns.
package classify

// Evidence is what a classifier sees after the rerun loop.
type Evidence struct {
	Retries       int
	Threshold     int
	RerunFailures []error
}

// Successes returns the number of reruns that passed.
func (e Evidence) Successes() int {
	return e.Retries - len(e.RerunFailures)
}

// Classifier turns rerun evidence into VerdictFlakey or VerdictPersistent.
// Any other result is treated as VerdictPersistent by the executor.
type Classifier interface {
	Classify(ev Evidence) Verdict
}

// ClassifierFunc adapts a function to a Classifier.
type ClassifierFunc func(ev Evidence) Verdict

func (f ClassifierFunc) Classify(ev Evidence) Verdict { return f(ev) }

// Threshold is the default classifier: a unit is flakey iff the number of
// failed reruns is strictly less than Retries - Threshold, i.e. more than
// Threshold reruns passed.
//
// With Threshold >= Retries (including Retries == 0) no outcome is flakey.
type Threshold struct{}

func (Threshold) Classify(ev Evidence) Verdict {
	if IsPotentiallyFlakey(ev.Retries, ev.Threshold, len(ev.RerunFailures)) {
		return VerdictFlakey
	}
	return VerdictPersistent
}

// IsPotentiallyFlakey applies the threshold rule to raw counts.
func IsPotentiallyFlakey(retries, threshold, rerunFailures int) bool {
	return rerunFailures < retries-threshold
}
