package speechunit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with speechunit-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that writes JSON lines to w.
// A nil w writes to stderr.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text to w.
// A nil w writes to stderr.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// Slog returns the underlying slog.Logger, or nil for a nil Logger.
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return nil
	}
	return l.Logger
}

// WithRunID adds a run_id field.
func (l *Logger) WithRunID(id string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", id)}
}

// WithK adds a k (cluster count) field.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{Logger: l.Logger.With("k", k)}
}

// WithDimension adds a dimension field.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{Logger: l.Logger.With("dimension", dim)}
}

// WithSplit adds a split field.
func (l *Logger) WithSplit(split string) *Logger {
	return &Logger{Logger: l.Logger.With("split", split)}
}

// LogIteration logs the end of a training iteration.
func (l *Logger) LogIteration(ctx context.Context, iter int, d time.Duration, items int64, lastDiff float64) {
	l.InfoContext(ctx, "iteration completed",
		"iteration", iter,
		"duration", d,
		"items", items,
		"last_diff", lastDiff,
	)
}

// LogCheckpoint logs a checkpoint save.
func (l *Logger) LogCheckpoint(ctx context.Context, path string, iter int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint save failed",
			"path", path,
			"iteration", iter,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint saved",
			"path", path,
			"iteration", iter,
		)
	}
}

// LogQuantize logs the outcome of a quantization run.
func (l *Logger) LogQuantize(ctx context.Context, output string, written, failed int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "quantization failed",
			"output", output,
			"written", written,
			"error", err,
		)
	case failed > 0:
		l.WarnContext(ctx, "quantization completed with failures",
			"output", output,
			"written", written,
			"failed", failed,
		)
	default:
		l.InfoContext(ctx, "quantization completed",
			"output", output,
			"written", written,
		)
	}
}
