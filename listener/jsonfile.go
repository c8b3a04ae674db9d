package listener

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/coder/quartz"

	"github.com/aponysus/flakey/flake"
)

const maxNameCollisions = 100

// JSONFileWriter writes one pretty-printed JSON file per report into a
// directory, creating it if needed. Files are named
// "<name>_<group>_<unixMillis>.json"; an existing file is never overwritten.
type JSONFileWriter struct {
	dir   string
	clock quartz.Clock
}

// JSONFileOption configures a JSONFileWriter.
type JSONFileOption func(*JSONFileWriter)

// WithFileClock sets the clock used for file name timestamps.
func WithFileClock(clock quartz.Clock) JSONFileOption {
	return func(w *JSONFileWriter) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func NewJSONFileWriter(dir string, opts ...JSONFileOption) *JSONFileWriter {
	w := &JSONFileWriter{dir: dir, clock: quartz.NewReal()}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

func (w *JSONFileWriter) Dir() string { return w.dir }

func (w *JSONFileWriter) HandlePotentialFlakeyness(_ context.Context, report flake.Report) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("flakey: directory %s cannot be accessed: %w", w.dir, err)
	}

	base := FileName(report.Identity, w.clock.Now().UnixMilli())
	f, err := w.create(base)
	if err != nil {
		return err
	}

	if err := encodeDocument(f, NewDocument(report), true); err != nil {
		_ = f.Close()
		return fmt.Errorf("flakey: write %s: %w", f.Name(), err)
	}
	return f.Close()
}

func (w *JSONFileWriter) create(base string) (*os.File, error) {
	stem := strings.TrimSuffix(base, ".json")
	name := base
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrExist) || i > maxNameCollisions {
			return nil, fmt.Errorf("flakey: create report file: %w", err)
		}
		name = fmt.Sprintf("%s_%d.json", stem, i)
	}
}

// FileName returns the report file name for id at the given unix millisecond timestamp.
func FileName(id flake.Identity, unixMillis int64) string {
	name := fmt.Sprintf("%s_%s_%d.json", id.Name, id.Group, unixMillis)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}
