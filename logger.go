package geoset

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/geoset/engine"
)

// Logger wraps slog.Logger with geoset-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithDataset adds a dataset field to the logger.
func (l *Logger) WithDataset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", name),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogRegister logs an image or polygon registration.
func (l *Logger) LogRegister(ctx context.Context, kind, key string, edges int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "register failed",
			"kind", kind,
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "register completed",
			"kind", kind,
			"key", key,
			"edges", edges,
		)
	}
}

// LogRemove logs an image or polygon removal.
func (l *Logger) LogRemove(ctx context.Context, kind, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"kind", kind,
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"kind", kind,
			"key", key,
		)
	}
}

// LogStatus logs an image status update.
func (l *Logger) LogStatus(ctx context.Context, name, status string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "status update failed",
			"name", name,
			"status", status,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "status updated",
			"name", name,
			"status", status,
		)
	}
}

// LogRecompute logs a full containment recomputation.
func (l *Logger) LogRecompute(ctx context.Context, images, polygons int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recompute failed",
			"images", images,
			"polygons", polygons,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recompute completed",
			"images", images,
			"polygons", polygons,
		)
	}
}

// LogClasses logs a class combine or drop operation.
func (l *Logger) LogClasses(ctx context.Context, op string, changed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "class operation failed",
			"op", op,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "class operation completed",
			"op", op,
			"changed", changed,
		)
	}
}

// LogMerge logs a dataset merge.
func (l *Logger) LogMerge(ctx context.Context, stats engine.MergeStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "merge completed",
			"images_added", stats.ImagesAdded,
			"images_updated", stats.ImagesUpdated,
			"images_skipped", stats.ImagesSkipped,
			"polygons_added", stats.PolygonsAdded,
			"polygons_updated", stats.PolygonsUpdated,
			"polygons_skipped", stats.PolygonsSkipped,
		)
	}
}

// LogCommit logs a snapshot commit.
func (l *Logger) LogCommit(ctx context.Context, snapshot string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"snapshot", snapshot,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "commit completed",
			"snapshot", snapshot,
		)
	}
}

// LogRecovery logs dataset recovery on open.
func (l *Logger) LogRecovery(ctx context.Context, snapshot string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"snapshot", snapshot,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"snapshot", snapshot,
		)
	}
}

// LogExport logs a GeoJSON export.
func (l *Logger) LogExport(ctx context.Context, kind string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "export failed",
			"kind", kind,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "export completed",
			"kind", kind,
			"count", count,
		)
	}
}

// LogImport logs a GeoJSON import.
func (l *Logger) LogImport(ctx context.Context, kind string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"kind", kind,
			"imported", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "import completed",
			"kind", kind,
			"imported", count,
		)
	}
}
