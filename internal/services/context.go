package services

import "context"

type contextKey string

const (
	jobIDKey       contextKey = "job_id"
	jobIndexKey    contextKey = "job_index"
	sourceIndexKey contextKey = "source_index"
	requestIDKey   contextKey = "request_id"
)

// WithJobID annotates context with the queue job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the queue job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobIndex annotates context with the job's display index.
func WithJobIndex(ctx context.Context, index int64) context.Context {
	if index <= 0 {
		return ctx
	}
	return context.WithValue(ctx, jobIndexKey, index)
}

// JobIndexFromContext returns the job display index if present.
func JobIndexFromContext(ctx context.Context) (int64, bool) {
	switch v := ctx.Value(jobIndexKey).(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// WithSourceIndex annotates context with the zero-based source position
// currently being processed.
func WithSourceIndex(ctx context.Context, index int) context.Context {
	if index < 0 {
		return ctx
	}
	return context.WithValue(ctx, sourceIndexKey, index)
}

// SourceIndexFromContext returns the source position if present.
func SourceIndexFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(sourceIndexKey).(int); ok {
		return v, true
	}
	return 0, false
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
