// Package flake holds the values exchanged between the rerun executor and the
// listeners that consume flakiness reports.
package flake

import "context"

// Listener receives a Report for every test unit classified as potentially
// flakey. Listeners are invoked synchronously and sequentially, in
// registration order, on the goroutine that called Guard.
type Listener interface {
	HandlePotentialFlakeyness(ctx context.Context, report Report) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(ctx context.Context, report Report) error

func (f ListenerFunc) HandlePotentialFlakeyness(ctx context.Context, report Report) error {
	return f(ctx, report)
}
