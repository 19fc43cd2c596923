package logging

import (
	"context"
	"log/slog"

	"blueline/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for comparison job identifiers.
	FieldJobID = "job_id"
	// FieldVersionID is the standardized structured logging key for drawing version identifiers.
	FieldVersionID = "version_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldPageNumber is the standardized structured logging key for 1-based page numbers.
	FieldPageNumber = "page_number"
	// FieldAttempt is the standardized structured logging key for delivery attempt counts.
	FieldAttempt = "attempt"
	// FieldTopic is the standardized structured logging key for broker topic names.
	FieldTopic = "topic"
	// FieldCorrelationID is the standardized structured logging key for delivery correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType tags log lines that downstream tooling keys off.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator-facing next step for a failure.
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
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if version, ok := services.VersionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldVersionID, version))
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
