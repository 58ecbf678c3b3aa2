package logging

import (
	"context"
	"log/slog"

	"nightshift/internal/services"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the structured logging key for run session identifiers.
	FieldRunID = "run_id"
	// FieldTrigger is the structured logging key for what started a run.
	FieldTrigger = "trigger"
	// FieldPath is the structured logging key for source file paths.
	FieldPath = "path"
	// FieldAccount is the structured logging key for destination account ids.
	FieldAccount = "account"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID is the structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if trigger, ok := services.TriggerFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTrigger, trigger))
	}
	if path, ok := services.PathFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPath, path))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
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
