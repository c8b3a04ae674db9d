package listener

import (
	"context"
	"log/slog"

	"github.com/aponysus/flakey/flake"
)

// Logger emits one structured record per report.
type Logger struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogger returns a Logger writing at warn level. A nil logger uses slog.Default().
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l, level: slog.LevelWarn}
}

// WithLevel returns a copy that logs at level.
func (l *Logger) WithLevel(level slog.Level) *Logger {
	cp := *l
	cp.level = level
	return &cp
}

func (l *Logger) HandlePotentialFlakeyness(ctx context.Context, report flake.Report) error {
	l.logger.Log(ctx, l.level, "potentially flakey test",
		slog.String("report_id", report.ID),
		slog.String("group", report.Identity.Group),
		slog.String("name", report.Identity.Name),
		slog.Int("reruns", report.RerunCount),
		slog.Int("rerun_failures", len(report.RerunFailures)),
		slog.Any("original", report.Original),
		slog.Time("detected_at", report.DetectedAt),
	)
	return nil
}
