package observe

import "context"

type attemptInfoKey struct{}

// AttemptInfo is per-attempt metadata attached to the context passed to the unit.
type AttemptInfo struct {
	// Attempt is 0 for the initial run and 1..Retries for reruns.
	Attempt int
	IsRerun bool
}

// WithAttemptInfo returns a context derived from ctx that carries info.
func WithAttemptInfo(ctx context.Context, info AttemptInfo) context.Context {
	return context.WithValue(ctx, attemptInfoKey{}, info)
}

// AttemptFromContext returns the AttemptInfo from ctx, if present.
func AttemptFromContext(ctx context.Context) (AttemptInfo, bool) {
	info, ok := ctx.Value(attemptInfoKey{}).(AttemptInfo)
	return info, ok
}
