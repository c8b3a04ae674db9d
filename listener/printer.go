package listener

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aponysus/flakey/flake"
)

// Printer writes one line per report:
//
//	TestName(group) failed 2 times after 10 reruns. Testcase is potentially flakey.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) HandlePotentialFlakeyness(_ context.Context, report flake.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s failed %d times after %d reruns. Testcase is potentially flakey.\n",
		report.Identity.DisplayName(), len(report.RerunFailures), report.RerunCount)
	return err
}
