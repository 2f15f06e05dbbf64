// Package logger configures slog for the localizer and carries per-run fields
// through context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/localizer/core/config"
)

// Setup installs the process-wide slog handler. The CLI passes os.Stderr so
// stdout stays reserved for command output.
//
// Production with an OTLP endpoint logs through the otelslog bridge; other
// production runs log JSON and development logs text.
func Setup(cfg config.Config, out io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level(cfg)}

	var handler slog.Handler
	switch {
	case cfg.IsProduction() && cfg.OTel.Enabled():
		// The bridge records trace context itself.
		handler = &TraceHandler{Handler: otelslog.NewHandler(
			cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)}
	case cfg.IsProduction():
		handler = NewTraceHandler(slog.NewJSONHandler(out, opts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(out, opts))
	}

	slog.SetDefault(slog.New(handler))
}

func level(cfg config.Config) slog.Level {
	var l slog.Level
	if cfg.LogLevel != "" && l.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))) == nil {
		return l
	}
	if cfg.IsDevelopment() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// TraceHandler adds the context's LogFields and, when traceIDs is set, the
// current trace and span ids to every record.
type TraceHandler struct {
	slog.Handler
	traceIDs bool
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h, traceIDs: true}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.traceIDs {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	r.AddAttrs(GetLogFields(ctx).attrs()...)
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs), traceIDs: h.traceIDs}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name), traceIDs: h.traceIDs}
}
