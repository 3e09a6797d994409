package vecshard

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vecshard-specific context.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithVariant adds a variant field to the logger.
func (l *Logger) WithVariant(variant string) *Logger {
	return &Logger{
		Logger: l.Logger.With("variant", variant),
	}
}

// WithOwner adds an owner field to the logger.
func (l *Logger) WithOwner(owner string) *Logger {
	return &Logger{
		Logger: l.Logger.With("owner", owner),
	}
}

// LogBuild logs a build operation. A build refused because the backend
// runs in stub mode is logged as a warning: nothing was published, so the
// result is not authoritative.
func (l *Logger) LogBuild(ctx context.Context, res BuildResult, err error) {
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		l.WarnContext(ctx, "build not published",
			"authoritative", false,
			"error", err,
		)
	case err != nil:
		l.ErrorContext(ctx, "build failed",
			"retryable", IsRetryable(err),
			"error", err,
		)
	default:
		l.DebugContext(ctx, "build completed",
			"file", res.Segment.File,
			"count", res.Segment.Count,
			"existing", res.Existing,
			"trained", res.Trained,
			"generation", res.Generation,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogCompaction logs a compaction run.
func (l *Logger) LogCompaction(ctx context.Context, res CompactionResult, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"error", err,
		)
		return
	}
	if res.Status != CompactionCompacted {
		l.DebugContext(ctx, "compaction not needed",
			"status", res.Status.String(),
		)
		return
	}
	l.InfoContext(ctx, "compaction completed",
		"merged", len(res.Merged),
		"shard", res.Shard.File,
		"duplicates", res.Duplicates,
		"generation", res.Generation,
	)
}

// LogReconcile logs a reconciliation pass.
func (l *Logger) LogReconcile(ctx context.Context, report ReconcileReport, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reconcile failed",
			"error", err,
		)
		return
	}
	if len(report.Registered) > 0 || len(report.Removed) > 0 {
		l.WarnContext(ctx, "reconcile repaired variant",
			"registered", len(report.Registered),
			"removed", len(report.Removed),
		)
	}
}
