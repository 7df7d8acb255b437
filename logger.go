package memvault

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with memvault-specific helpers so that
// operations log with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at Info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))}
}

// LogAdd logs an add operation.
func (l *Logger) LogAdd(ctx context.Context, uid, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add memory failed", "uid", uid, "id", id, "error", err)
	} else {
		l.DebugContext(ctx, "memory added", "uid", uid, "id", id)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(ctx context.Context, uid, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update memory failed", "uid", uid, "id", id, "error", err)
	} else {
		l.DebugContext(ctx, "memory updated", "uid", uid, "id", id)
	}
}

// LogDelete logs a soft delete operation.
func (l *Logger) LogDelete(ctx context.Context, uid, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete memory failed", "uid", uid, "id", id, "error", err)
	} else {
		l.DebugContext(ctx, "memory soft deleted", "uid", uid, "id", id)
	}
}

// LogPurge logs a purge operation.
func (l *Logger) LogPurge(ctx context.Context, uid string, purged int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "purge failed", "uid", uid, "error", err)
	} else if purged > 0 {
		l.InfoContext(ctx, "purge completed", "uid", uid, "purged", purged)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, uid string, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "uid", uid, "k", k, "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "uid", uid, "k", k, "results", found)
	}
}

// LogRebuild logs an index rebuild.
func (l *Logger) LogRebuild(ctx context.Context, uid string, total, degraded int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "index rebuild failed", "uid", uid, "error", err)
	case degraded > 0:
		l.WarnContext(ctx, "index rebuild completed with degraded rows",
			"uid", uid, "total", total, "degraded", degraded)
	default:
		l.InfoContext(ctx, "index rebuild completed", "uid", uid, "total", total)
	}
}

// LogBackup logs a backup upload.
func (l *Logger) LogBackup(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed", "name", name, "error", err)
	} else {
		l.InfoContext(ctx, "backup uploaded", "name", name)
	}
}
