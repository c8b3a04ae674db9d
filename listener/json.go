package listener

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/aponysus/flakey/flake"
)

// Document is the JSON form of a report.
type Document struct {
	ID                string        `json:"id,omitempty"`
	MethodName        string        `json:"methodName"`
	ClassName         string        `json:"className"`
	OriginalException flake.Cause   `json:"originalException"`
	RerunCount        int           `json:"rerunCount"`
	RerunExceptions   []flake.Cause `json:"rerunExceptions"`
	DetectedAt        time.Time     `json:"detectedAt"`
}

// NewDocument converts report into its JSON form.
func NewDocument(report flake.Report) Document {
	doc := Document{
		ID:                report.ID,
		MethodName:        report.Identity.Name,
		ClassName:         report.Identity.Group,
		OriginalException: flake.NewCause(report.Original),
		RerunCount:        report.RerunCount,
		RerunExceptions:   make([]flake.Cause, 0, len(report.RerunFailures)),
		DetectedAt:        report.DetectedAt,
	}
	for _, err := range report.RerunFailures {
		doc.RerunExceptions = append(doc.RerunExceptions, flake.NewCause(err))
	}
	return doc
}

// JSONSerializer writes each report as a JSON object to w.
type JSONSerializer struct {
	mu     sync.Mutex
	w      io.Writer
	pretty bool
}

func NewJSONSerializer(w io.Writer, pretty bool) *JSONSerializer {
	return &JSONSerializer{w: w, pretty: pretty}
}

func (s *JSONSerializer) HandlePotentialFlakeyness(_ context.Context, report flake.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeDocument(s.w, NewDocument(report), s.pretty)
}

func encodeDocument(w io.Writer, doc Document, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}
