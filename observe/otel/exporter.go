package otel

import (
	"context"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to a zerolog logger. It lets the CLI show
// traces without a collector.
type LogExporter struct {
	logger zerolog.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := e.logger.Info().
			Str("span", span.Name()).
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Dur("duration", span.EndTime().Sub(span.StartTime())).
			Str("status", span.Status().Code.String())
		if parent := span.Parent(); parent.IsValid() {
			ev = ev.Str("parent_id", parent.SpanID().String())
		}
		for _, attr := range span.Attributes() {
			ev = ev.Str(string(attr.Key), attr.Value.Emit())
		}
		ev.Msg("span")
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

// NewTracerProvider returns an SDK provider that batches spans into a
// LogExporter. Callers must Shutdown it to flush pending spans.
func NewTracerProvider(logger zerolog.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(NewLogExporter(logger)))
}
