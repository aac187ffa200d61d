// Package otel turns session events into OpenTelemetry spans so chat sends,
// tool dispatches and chain steps show up in any tracing backend.
package otel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/sai/observe"
	"github.com/PipeOpsHQ/sai/types"
)

const (
	instrumentationName = "github.com/PipeOpsHQ/sai"
	maxOpenSpans        = 1024
)

type openSpan struct {
	span   trace.Span
	parent string
}

// Sink implements observe.Sink. A started event opens a span that the matching
// completed or failed event closes, so a chain span contains its step spans and
// each step span contains the remote call it made. Events with nothing to pair
// with become spans of their own.
type Sink struct {
	tracer trace.Tracer

	mu   sync.Mutex
	open map[string]openSpan
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
		open:   map[string]openSpan{},
	}
}

func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	if s == nil {
		return errors.New("otel: nil sink")
	}
	event.Normalize()
	key := spanKey(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Status == observe.StatusStarted && key != "" {
		if prev, ok := s.open[key]; ok {
			prev.span.End(trace.WithTimestamp(event.Timestamp))
		}
		if len(s.open) >= maxOpenSpans {
			s.evictLocked(event.Timestamp)
		}
		span := s.startLocked(event, event.Timestamp)
		s.open[key] = openSpan{span: span, parent: event.ParentSpanID}
		return nil
	}

	if open, ok := s.open[key]; ok && key != "" {
		delete(s.open, key)
		s.finish(open.span, event, event.Timestamp)
		s.closeChildrenLocked(key, event)
		return nil
	}

	span := s.startLocked(event, event.Timestamp)
	end := event.Timestamp
	if event.DurationMs > 0 {
		end = end.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	s.finish(span, event, end)
	return nil
}

// spanKey pairs events that describe the same unit of work. Chain events carry
// their own span ids; plain chat sends pair within a session.
func spanKey(event observe.Event) string {
	if event.SpanID != "" {
		return event.SpanID
	}
	if event.SessionID == "" {
		return ""
	}
	switch types.EventType(event.Name) {
	case types.EventSendStarted, types.EventSendCompleted, types.EventSendFailed, types.EventToolRouted:
		return "send:" + event.SessionID
	}
	return ""
}

func (s *Sink) startLocked(event observe.Event, at time.Time) trace.Span {
	ctx := context.Background()
	if parent, ok := s.open[event.ParentSpanID]; ok && event.ParentSpanID != "" {
		ctx = trace.ContextWithSpan(ctx, parent.span)
	}
	_, span := s.tracer.Start(ctx, spanNameFor(event), trace.WithTimestamp(at))
	span.SetAttributes(attributesFor(event)...)
	return span
}

func (s *Sink) finish(span trace.Span, event observe.Event, at time.Time) {
	span.SetName(spanNameFor(event))
	span.SetAttributes(attributesFor(event)...)
	if types.EventType(event.Name) == types.EventToolRouted {
		span.SetAttributes(attribute.Bool("sai.tool_routed", true))
	}
	switch event.Status {
	case observe.StatusFailed:
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(errors.New(event.Error))
		}
	case observe.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(at))
}

// closeChildrenLocked ends spans left open under parent, for example a step
// whose chain failed before the step completed.
func (s *Sink) closeChildrenLocked(parent string, event observe.Event) {
	for key, open := range s.open {
		if open.parent != parent {
			continue
		}
		delete(s.open, key)
		if event.Status == observe.StatusFailed {
			open.span.SetStatus(codes.Error, "abandoned: "+event.Error)
		}
		open.span.End(trace.WithTimestamp(event.Timestamp))
		s.closeChildrenLocked(key, event)
	}
}

func (s *Sink) evictLocked(at time.Time) {
	for key, open := range s.open {
		open.span.End(trace.WithTimestamp(at))
		delete(s.open, key)
		return
	}
}

func attributesFor(event observe.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("sai.event.kind", string(event.Kind)),
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("sai.event.name", event.Name))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("sai.session.id", event.SessionID))
	}
	if event.RunID != "" {
		attrs = append(attrs, attribute.String("sai.chain.id", event.RunID))
	}
	if step, ok := event.Attributes["step"].(int); ok {
		attrs = append(attrs, attribute.Int("sai.chain.step", step))
	}
	if event.Provider != "" {
		attrs = append(attrs, attribute.String("sai.provider", event.Provider))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("sai.tool.name", event.ToolName))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("sai.status", string(event.Status)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("sai.latency_ms", event.DurationMs))
	}
	if tokens, ok := event.Attributes["tokens"].(int); ok {
		attrs = append(attrs, attribute.Int("sai.tokens", tokens))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("sai.message", truncate(event.Message, 1024)))
	}
	return attrs
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindChat:
		return "sai.chat"
	case observe.KindProvider:
		if event.Provider != "" {
			return "sai.llm." + event.Provider
		}
		return "sai.llm.generate"
	case observe.KindTool:
		if event.ToolName != "" {
			return "sai.tool." + event.ToolName
		}
		return "sai.tool.call"
	case observe.KindChain:
		if step, ok := event.Attributes["step"].(int); ok {
			return fmt.Sprintf("sai.chain.step.%d", step)
		}
		return "sai.chain"
	case observe.KindMemory:
		return "sai.memory"
	default:
		if event.Name != "" {
			return "sai." + event.Name
		}
		return "sai.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
