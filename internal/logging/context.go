package logging

import (
	"context"
	"log/slog"

	"runq/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for queue job identifiers.
	FieldJobID = "job_id"
	// FieldJobIndex is the standardized structured logging key for job queue positions.
	FieldJobIndex = "job_index"
	// FieldSourceIndex is the standardized structured logging key for the zero-based
	// position of the data source currently being processed.
	FieldSourceIndex = "source_index"
	// FieldSourceCount is the standardized structured logging key for the total
	// number of data sources attached to a job.
	FieldSourceCount = "source_count"
	// FieldMode is the standardized structured logging key for run modes.
	FieldMode = "mode"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType is the standardized structured logging key for machine-readable event names.
	FieldEventType = "event_type"
	// FieldErrorHint is the standardized structured logging key for operator remediation hints.
	FieldErrorHint = "error_hint"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if index, ok := services.JobIndexFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldJobIndex, index))
	}
	if index, ok := services.SourceIndexFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldSourceIndex, index))
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
	return logger.With(attrsToArgs(fields)...)
}
