package observe

import (
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/sai/types"
)

// FromSessionEvent maps a session lifecycle event onto the observe model.
func FromSessionEvent(in types.Event) Event {
	e := Event{
		Timestamp:  in.Timestamp,
		RunID:      in.ChainID,
		SessionID:  in.SessionID,
		Name:       string(in.Type),
		Provider:   in.Provider,
		ToolName:   in.ToolName,
		Message:    in.Message,
		Error:      in.Error,
		DurationMs: in.LatencyMs,
		Attributes: map[string]any{
			"eventType": string(in.Type),
		},
	}
	if in.Step > 0 {
		e.Attributes["step"] = in.Step
	}
	if in.Tokens > 0 {
		e.Attributes["tokens"] = in.Tokens
	}

	eventType := string(in.Type)
	switch {
	case strings.HasPrefix(eventType, "chain."):
		e.Kind = KindChain
	case strings.HasPrefix(eventType, "tool.") || in.Type == types.EventToolRouted:
		e.Kind = KindTool
	case strings.HasPrefix(eventType, "memory."):
		e.Kind = KindMemory
	case in.Provider != "":
		e.Kind = KindProvider
	default:
		e.Kind = KindChat
	}
	switch {
	case strings.HasSuffix(eventType, "started"):
		e.Status = StatusStarted
	case strings.HasSuffix(eventType, "failed"):
		e.Status = StatusFailed
	default:
		e.Status = StatusCompleted
	}
	e.SpanID = spanIDFor(in)
	e.ParentSpanID = parentSpanIDFor(in)
	e.Normalize()
	return e
}

// Chain ids nest as run, run:step:N, and run:step:N:send for the remote
// call made by that step.
func spanIDFor(in types.Event) string {
	if in.ChainID == "" {
		return ""
	}
	if in.Step > 0 {
		step := fmt.Sprintf("%s:step:%d", in.ChainID, in.Step)
		if isSendEvent(in.Type) {
			return step + ":send"
		}
		return step
	}
	return in.ChainID
}

func parentSpanIDFor(in types.Event) string {
	if in.ChainID == "" || in.Step == 0 {
		return ""
	}
	if isSendEvent(in.Type) {
		return fmt.Sprintf("%s:step:%d", in.ChainID, in.Step)
	}
	return in.ChainID
}

func isSendEvent(t types.EventType) bool {
	return strings.HasPrefix(string(t), "send.")
}
