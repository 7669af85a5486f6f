package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID identifies the matching session (one build, one ledger).
	FieldSessionID = "session_id"
	// FieldRunID identifies one pipeline invocation over a frame.
	FieldRunID = "run_id"
	// FieldDetectionID identifies a detection within a frame.
	FieldDetectionID = "detection_id"
	// FieldBuildID identifies the BOM build a session was loaded from.
	FieldBuildID = "build_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	runIDKey     contextKey = "run_id"
)

// WithSessionID annotates context with the matching session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := ctx.Value(runIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
