package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/PipeOpsHQ/sai/types"
)

func TestFromSessionEvent_Kinds(t *testing.T) {
	cases := []struct {
		in     types.Event
		kind   Kind
		status Status
	}{
		{types.Event{Type: types.EventSendStarted}, KindChat, StatusStarted},
		{types.Event{Type: types.EventSendCompleted, Provider: "gemini"}, KindProvider, StatusCompleted},
		{types.Event{Type: types.EventSendFailed, Provider: "gemini", Error: "boom"}, KindProvider, StatusFailed},
		{types.Event{Type: types.EventToolRouted, ToolName: "calculator"}, KindTool, StatusCompleted},
		{types.Event{Type: types.EventToolExecuted, ToolName: "random"}, KindTool, StatusCompleted},
		{types.Event{Type: types.EventChainStepDone, ChainID: "c1", Step: 2}, KindChain, StatusCompleted},
		{types.Event{Type: types.EventMemoryCleared}, KindMemory, StatusCompleted},
	}
	for _, tc := range cases {
		got := FromSessionEvent(tc.in)
		if got.Kind != tc.kind || got.Status != tc.status {
			t.Fatalf("%s: got kind=%s status=%s", tc.in.Type, got.Kind, got.Status)
		}
		if got.Timestamp.IsZero() {
			t.Fatalf("%s: timestamp not normalized", tc.in.Type)
		}
	}

	step := FromSessionEvent(types.Event{Type: types.EventChainStepStarted, ChainID: "c1", Step: 3})
	if step.SpanID != "c1:step:3" || step.ParentSpanID != "c1" {
		t.Fatalf("unexpected span ids %q %q", step.SpanID, step.ParentSpanID)
	}
	send := FromSessionEvent(types.Event{Type: types.EventSendCompleted, Provider: "gemini", ChainID: "c1", Step: 3})
	if send.SpanID != "c1:step:3:send" || send.ParentSpanID != "c1:step:3" {
		t.Fatalf("unexpected step send span ids %q %q", send.SpanID, send.ParentSpanID)
	}
}

func TestMultiSink_DeliversToAll(t *testing.T) {
	var got []string
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("down") })
	recording := SinkFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Name)
		return nil
	})
	err := NewMultiSink(failing, nil, recording).Emit(context.Background(), Event{Name: "x"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(got) != 1 {
		t.Fatalf("later sinks must still receive the event")
	}
}

func TestAsyncSink_DrainsOnClose(t *testing.T) {
	hub := NewHub(10)
	as := NewAsyncSink(hub, 4)
	for i := 0; i < 3; i++ {
		_ = as.Emit(context.Background(), Event{Name: "e"})
	}
	as.Close()
	if n := len(hub.Recent()); n != 3 {
		t.Fatalf("expected 3 drained events, got %d", n)
	}
}

func TestHub_SubscribeAndHistory(t *testing.T) {
	hub := NewHub(2)
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	for _, name := range []string{"a", "b", "c"} {
		_ = hub.Emit(context.Background(), Event{Name: name})
	}
	select {
	case e := <-ch:
		if e.Name != "a" {
			t.Fatalf("unexpected first event %q", e.Name)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	recent := hub.Recent()
	if len(recent) != 2 || recent[0].Name != "b" {
		t.Fatalf("history should keep the newest events, got %#v", recent)
	}
	cancel()
	cancel()
}

func TestLogSink_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf).Level(zerolog.DebugLevel))
	err := EmitSession(context.Background(), sink, types.Event{
		Type:      types.EventSendFailed,
		SessionID: "s1",
		Provider:  "gemini",
		LatencyMs: 42,
		Error:     "API request failed: 500",
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	line := buf.String()
	for _, want := range []string{`"level":"warn"`, `"session":"s1"`, `"latency_ms":42`, `"message":"send.failed"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %s missing %s", line, want)
		}
	}
}
