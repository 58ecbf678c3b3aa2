package services

import "context"

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	triggerKey   contextKey = "trigger"
	pathKey      contextKey = "path"
	requestIDKey contextKey = "request_id"
)

// WithRunID annotates context with the run session identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run session identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTrigger annotates context with what started the run (scheduled, manual, drain).
func WithTrigger(ctx context.Context, trigger string) context.Context {
	if trigger == "" {
		return ctx
	}
	return context.WithValue(ctx, triggerKey, trigger)
}

// TriggerFromContext returns the trigger name if present.
func TriggerFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(triggerKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPath annotates context with the source file being processed.
func WithPath(ctx context.Context, path string) context.Context {
	if path == "" {
		return ctx
	}
	return context.WithValue(ctx, pathKey, path)
}

// PathFromContext returns the source path if present.
func PathFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(pathKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
