package listener

import (
	"context"
	"sync"

	"github.com/aponysus/flakey/flake"
)

// Counter records every report it receives. The zero value is ready to use.
type Counter struct {
	mu      sync.Mutex
	reports []flake.Report
}

func (c *Counter) HandlePotentialFlakeyness(_ context.Context, report flake.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
	return nil
}

// FlakeyTests returns the names of the reported tests in report order.
func (c *Counter) FlakeyTests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.reports))
	for i, r := range c.reports {
		out[i] = r.Identity.Name
	}
	return out
}

// Reports returns a copy of the received reports.
func (c *Counter) Reports() []flake.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]flake.Report, len(c.reports))
	for i, r := range c.reports {
		out[i] = r.Clone()
	}
	return out
}

func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}
