package observe

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes every event as one structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) error {
	event.Normalize()
	var ev *zerolog.Event
	if event.Status == StatusFailed {
		ev = s.logger.Warn()
	} else {
		ev = s.logger.Debug()
	}
	ev = ev.Str("kind", string(event.Kind)).Str("status", string(event.Status))
	if event.SessionID != "" {
		ev = ev.Str("session", event.SessionID)
	}
	if event.RunID != "" {
		ev = ev.Str("chain", event.RunID)
	}
	if event.Provider != "" {
		ev = ev.Str("provider", event.Provider)
	}
	if event.ToolName != "" {
		ev = ev.Str("tool", event.ToolName)
	}
	if event.DurationMs > 0 {
		ev = ev.Int64("latency_ms", event.DurationMs)
	}
	if step, ok := event.Attributes["step"].(int); ok {
		ev = ev.Int("step", step)
	}
	if tokens, ok := event.Attributes["tokens"].(int); ok {
		ev = ev.Int("tokens", tokens)
	}
	if event.Error != "" {
		ev = ev.Str("error", event.Error)
	}
	ev.Time("at", event.Timestamp).Msg(event.Name)
	return nil
}
