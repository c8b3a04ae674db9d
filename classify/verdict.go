package classify

// Verdict is the executor's conclusion about a guarded test unit.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	// VerdictPassed means the initial attempt succeeded; no reruns happened.
	VerdictPassed
	// VerdictFlakey means the initial attempt failed but enough reruns passed.
	VerdictFlakey
	// VerdictPersistent means the failure survived the reruns.
	VerdictPersistent
)

func (v Verdict) String() string {
	switch v {
	case VerdictPassed:
		return "passed"
	case VerdictFlakey:
		return "flakey"
	case VerdictPersistent:
		return "persistent"
	default:
		return "unknown"
	}
}
