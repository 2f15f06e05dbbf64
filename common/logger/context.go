package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so a localization run's project, run id
// and strategy show up on every log line emitted beneath it.
type LogFields struct {
	Project   *string // Project identifier
	RunID     *int64  // Snowflake id of one localization run
	Strategy  *string // Localization strategy name
	Package   *string // Package being built or ranked
	IssueID   *string // Issue identifier from the tracker
	MessageID *string // Redis stream message ID
	EventType *string // Codebase event type (e.g., "package_changed")
	Component string  // Component name (OTel semantic convention style, e.g., "localizer.localize.hierarchical")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.Project != nil {
		result.Project = new.Project
	}
	if new.RunID != nil {
		result.RunID = new.RunID
	}
	if new.Strategy != nil {
		result.Strategy = new.Strategy
	}
	if new.Package != nil {
		result.Package = new.Package
	}
	if new.IssueID != nil {
		result.IssueID = new.IssueID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.EventType != nil {
		result.EventType = new.EventType
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Project: logger.Ptr(p)})
func Ptr[T any](v T) *T {
	return &v
}

func (f LogFields) attrs() []slog.Attr {
	var attrs []slog.Attr
	if f.Project != nil {
		attrs = append(attrs, slog.String("project", *f.Project))
	}
	if f.RunID != nil {
		attrs = append(attrs, slog.Int64("run_id", *f.RunID))
	}
	if f.Strategy != nil {
		attrs = append(attrs, slog.String("strategy", *f.Strategy))
	}
	if f.Package != nil {
		attrs = append(attrs, slog.String("package", *f.Package))
	}
	if f.IssueID != nil {
		attrs = append(attrs, slog.String("issue_id", *f.IssueID))
	}
	if f.MessageID != nil {
		attrs = append(attrs, slog.String("message_id", *f.MessageID))
	}
	if f.EventType != nil {
		attrs = append(attrs, slog.String("event_type", *f.EventType))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}
