package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/PipeOpsHQ/sai/observe"
)

// MetricsSink counts session events and records send and step latency.
type MetricsSink struct {
	events  metric.Int64Counter
	latency metric.Float64Histogram
}

var _ observe.Sink = (*MetricsSink)(nil)

// NewMetricsSink builds the instruments from mp. A nil mp records nothing.
func NewMetricsSink(mp metric.MeterProvider) (*MetricsSink, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	events, err := meter.Int64Counter("sai.events",
		metric.WithDescription("Session events by kind, name and status."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("sai.latency",
		metric.WithDescription("Latency of remote sends, tool calls and chain steps."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &MetricsSink{events: events, latency: latency}, nil
}

func (s *MetricsSink) Emit(ctx context.Context, event observe.Event) error {
	if s == nil {
		return errors.New("otel: nil metrics sink")
	}
	event.Normalize()
	attrs := metric.WithAttributes(
		attribute.String("sai.event.kind", string(event.Kind)),
		attribute.String("sai.event.name", event.Name),
		attribute.String("sai.status", string(event.Status)),
	)
	s.events.Add(ctx, 1, attrs)
	if event.DurationMs > 0 {
		s.latency.Record(ctx, float64(event.DurationMs), attrs)
	}
	return nil
}
