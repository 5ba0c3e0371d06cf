package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey int

const loggerKey contextKey = iota

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// WithField adds a single field to the logger in the context.
func WithField(ctx context.Context, key string, value any) context.Context {
	logCtx := addField(FromContext(ctx).With(), key, value)
	logger := logCtx.Logger()
	return WithLogger(ctx, &logger)
}

// WithFields adds structured fields to the logger in the context.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	logCtx := FromContext(ctx).With()
	for key, value := range fields {
		logCtx = addField(logCtx, key, value)
	}
	logger := logCtx.Logger()
	return WithLogger(ctx, &logger)
}

// WithTabMapping tags the context logger with a tab mapping id.
func WithTabMapping(ctx context.Context, tabMappingID string) context.Context {
	return WithField(ctx, "tab_mapping_id", tabMappingID)
}

// WithDataSource tags the context logger with a data source id.
func WithDataSource(ctx context.Context, dataSourceID string) context.Context {
	return WithField(ctx, "data_source_id", dataSourceID)
}

// WithSyncRun tags the context logger with a sync run id.
func WithSyncRun(ctx context.Context, syncRunID string) context.Context {
	return WithField(ctx, "sync_run_id", syncRunID)
}

// WithConnector tags the context logger with a connector kind.
func WithConnector(ctx context.Context, kind string) context.Context {
	return WithField(ctx, "connector", kind)
}
