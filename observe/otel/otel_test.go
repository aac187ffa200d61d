package otel

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/PipeOpsHQ/sai/observe"
	"github.com/PipeOpsHQ/sai/types"
)

func newExporter(t *testing.T) (*tracetest.InMemoryExporter, *Sink) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewSink(tp)
}

func TestSinkEmitsSpans(t *testing.T) {
	exporter, sink := newExporter(t)

	now := time.Now()
	err := observe.EmitSession(context.Background(), sink, types.Event{
		Type:      types.EventChainCompleted,
		ChainID:   "run-123",
		SessionID: "sess-456",
		Timestamp: now,
		LatencyMs: 150,
	})
	if err != nil {
		t.Fatal(err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "sai.chain" {
		t.Errorf("expected span name 'sai.chain', got %q", span.Name)
	}
	if got := span.EndTime.Sub(span.StartTime); got != 150*time.Millisecond {
		t.Errorf("unexpected span duration %v", got)
	}

	attrMap := attrToMap(span.Attributes)
	if v := attrMap["sai.chain.id"]; v != "run-123" {
		t.Errorf("missing or wrong sai.chain.id: %v", attrMap)
	}
	if v := attrMap["sai.session.id"]; v != "sess-456" {
		t.Errorf("missing or wrong sai.session.id: %v", attrMap)
	}
}

func TestSpanNaming(t *testing.T) {
	exporter, sink := newExporter(t)
	now := time.Now()

	tests := []struct {
		event    observe.Event
		wantName string
	}{
		{observe.Event{Kind: observe.KindChat, Timestamp: now}, "sai.chat"},
		{observe.Event{Kind: observe.KindProvider, Provider: "gemini", Timestamp: now}, "sai.llm.gemini"},
		{observe.Event{Kind: observe.KindTool, ToolName: "calculator", Timestamp: now}, "sai.tool.calculator"},
		{observe.Event{Kind: observe.KindChain, Attributes: map[string]any{"step": 2}, Timestamp: now}, "sai.chain.step.2"},
		{observe.Event{Kind: observe.KindMemory, Timestamp: now}, "sai.memory"},
		{observe.Event{Kind: observe.KindCustom, Name: "custom_event", Timestamp: now}, "sai.custom_event"},
	}

	for _, tt := range tests {
		exporter.Reset()
		_ = sink.Emit(context.Background(), tt.event)
		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Errorf("expected 1 span for %s, got %d", tt.wantName, len(spans))
			continue
		}
		if spans[0].Name != tt.wantName {
			t.Errorf("expected span name %q, got %q", tt.wantName, spans[0].Name)
		}
	}
}

func TestSinkErrorStatus(t *testing.T) {
	exporter, sink := newExporter(t)
	_ = sink.Emit(context.Background(), observe.Event{
		Kind:      observe.KindProvider,
		Provider:  "gemini",
		Status:    observe.StatusFailed,
		Error:     "API request failed: 503",
		Timestamp: time.Now(),
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected error event recorded on span")
	}
}

func TestNilTracerProvider(t *testing.T) {
	sink := NewSink(nil)
	if err := sink.Emit(context.Background(), observe.Event{Kind: observe.KindChat}); err != nil {
		t.Errorf("expected no error with nil provider, got: %v", err)
	}
}

func TestLogExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogExporter(zerolog.New(&buf))))
	sink := NewSink(tp)

	err := observe.EmitSession(context.Background(), sink, types.Event{
		Type:      types.EventToolRouted,
		SessionID: "sess-1",
		ToolName:  "calculator",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"span":"sai.tool.calculator"`) || !strings.Contains(out, `"sai.session.id":"sess-1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func emitAll(t *testing.T, sink *Sink, events ...types.Event) {
	t.Helper()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range events {
		ev.SessionID = "sess-1"
		ev.Timestamp = base.Add(time.Duration(i) * 10 * time.Millisecond)
		if err := observe.EmitSession(context.Background(), sink, ev); err != nil {
			t.Fatal(err)
		}
	}
}

func spanByName(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, sp := range spans {
		if sp.Name == name {
			return sp
		}
	}
	t.Fatalf("no span named %q among %d spans", name, len(spans))
	return tracetest.SpanStub{}
}

func TestSinkNestsChainStepsAndSends(t *testing.T) {
	exporter, sink := newExporter(t)
	emitAll(t, sink,
		types.Event{Type: types.EventChainStarted, ChainID: "run-1"},
		types.Event{Type: types.EventChainStepStarted, ChainID: "run-1", Step: 1},
		types.Event{Type: types.EventSendStarted, ChainID: "run-1", Step: 1},
		types.Event{Type: types.EventSendCompleted, ChainID: "run-1", Step: 1, Provider: "gemini", LatencyMs: 120, Tokens: 7},
		types.Event{Type: types.EventChainStepDone, ChainID: "run-1", Step: 1},
		types.Event{Type: types.EventChainCompleted, ChainID: "run-1"},
	)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected chain, step and send spans, got %d", len(spans))
	}
	chainSpan := spanByName(t, spans, "sai.chain")
	stepSpan := spanByName(t, spans, "sai.chain.step.1")
	sendSpan := spanByName(t, spans, "sai.llm.gemini")

	if stepSpan.Parent.SpanID() != chainSpan.SpanContext.SpanID() {
		t.Fatalf("step span is not a child of the chain span")
	}
	if sendSpan.Parent.SpanID() != stepSpan.SpanContext.SpanID() {
		t.Fatalf("send span is not a child of the step span")
	}
	if sendSpan.SpanContext.TraceID() != chainSpan.SpanContext.TraceID() {
		t.Fatalf("spans should share one trace")
	}
	if got := chainSpan.EndTime.Sub(chainSpan.StartTime); got != 50*time.Millisecond {
		t.Fatalf("chain span should cover started..completed, got %v", got)
	}

	typed := map[string]attribute.Value{}
	for _, kv := range sendSpan.Attributes {
		typed[string(kv.Key)] = kv.Value
	}
	if v := typed["sai.tokens"]; v.Type() != attribute.INT64 || v.AsInt64() != 7 {
		t.Fatalf("expected integer sai.tokens=7, got %v", v.Emit())
	}
	if v := typed["sai.latency_ms"]; v.Type() != attribute.INT64 || v.AsInt64() != 120 {
		t.Fatalf("expected integer sai.latency_ms=120, got %v", v.Emit())
	}
	if v := typed["sai.chain.step"]; v.AsInt64() != 1 {
		t.Fatalf("expected sai.chain.step=1, got %v", v.Emit())
	}
}

func TestSinkMarksToolRoutedSends(t *testing.T) {
	exporter, sink := newExporter(t)
	emitAll(t, sink,
		types.Event{Type: types.EventSendStarted, Message: "calculate 2+2"},
		types.Event{Type: types.EventToolRouted, ToolName: "calculator", Message: "Result: 4"},
	)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected one span for the routed send, got %d", len(spans))
	}
	attrs := attrToMap(spans[0].Attributes)
	if spans[0].Name != "sai.tool.calculator" || attrs["sai.tool_routed"] != "true" || attrs["sai.tool.name"] != "calculator" {
		t.Fatalf("routed send not marked: name=%q attrs=%v", spans[0].Name, attrs)
	}
}

func TestSinkClosesStepWhenChainFails(t *testing.T) {
	exporter, sink := newExporter(t)
	emitAll(t, sink,
		types.Event{Type: types.EventChainStarted, ChainID: "run-2"},
		types.Event{Type: types.EventChainStepStarted, ChainID: "run-2", Step: 1},
		types.Event{Type: types.EventSendStarted, ChainID: "run-2", Step: 1},
		types.Event{Type: types.EventSendFailed, ChainID: "run-2", Step: 1, Provider: "gemini", Error: "503"},
		types.Event{Type: types.EventChainFailed, ChainID: "run-2", Error: "step 1 failed"},
	)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected all spans ended, got %d", len(spans))
	}
	for _, sp := range spans {
		if sp.Status.Code != codes.Error {
			t.Fatalf("span %s should be an error, got %v", sp.Name, sp.Status)
		}
	}
}

func attrToMap(attrs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}
