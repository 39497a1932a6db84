// Package extensions provides ready-made arbor extensions for structured
// logging and basic metrics.
package extensions

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbor-go/arbor"
)

// LoggingExtension writes structured logs for resolutions and executions
// using log/slog.
type LoggingExtension struct {
	arbor.BaseExtension
	Logger *slog.Logger
}

// NewLogging creates an extension that logs resolve and exec lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLogging(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{
		BaseExtension: arbor.NewBaseExtension("logging"),
		Logger:        logger,
	}
}

func (l *LoggingExtension) WrapResolve(next func() (any, error), ev *arbor.ResolveEvent) (any, error) {
	l.Logger.Debug("resolve_start",
		slog.String("kind", string(ev.Kind)),
		slog.String("name", ev.Name),
	)
	start := time.Now()
	v, err := next()
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	l.Logger.Log(context.Background(), level, "resolve_completed",
		slog.String("kind", string(ev.Kind)),
		slog.String("name", ev.Name),
		slog.Duration("duration", time.Since(start)),
		slog.Any("error", err),
	)
	return v, err
}

func (l *LoggingExtension) WrapExec(next func() (any, error), ev *arbor.ExecEvent) (any, error) {
	ctx := ev.Ctx.Context()
	l.Logger.DebugContext(ctx, "exec_start",
		slog.String("flow", ev.Name),
		slog.String("context_id", ev.Ctx.ID()),
		slog.String("parent_id", ev.Ctx.ParentID()),
	)
	start := time.Now()
	v, err := next()
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	l.Logger.Log(ctx, level, "exec_completed",
		slog.String("flow", ev.Name),
		slog.String("context_id", ev.Ctx.ID()),
		slog.Duration("duration", time.Since(start)),
		slog.Any("error", err),
	)
	return v, err
}
