package session

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PipeOpsHQ/sai/analytics"
	"github.com/PipeOpsHQ/sai/types"
)

// Reply is the outcome of one Send. On failure only LatencyMs is set.
type Reply struct {
	Text           string `json:"text"`
	LatencyMs      int64  `json:"latencyMs"`
	TokensUsed     int    `json:"tokensUsed"`
	IsToolResponse bool   `json:"isToolResponse"`
	Tool           string `json:"tool,omitempty"`
}

// Send answers a prompt, either from a local tool when the intent router
// matches or from the remote model. The prompt is stored as a user turn even
// when the remote call fails.
func (s *Session) Send(ctx context.Context, prompt string) (Reply, error) {
	if strings.TrimSpace(prompt) == "" {
		return Reply{}, ErrEmptyPrompt
	}
	var (
		reply Reply
		err   error
	)
	if doErr := s.do(ctx, func() { reply, err = s.send(ctx, prompt, sendScope{route: true}) }); doErr != nil {
		return Reply{}, doErr
	}
	return reply, err
}

// sendScope says whether a send may be answered by a tool and, for chain
// steps, which run and step it belongs to.
type sendScope struct {
	route   bool
	chainID string
	step    int
}

func (sc sendScope) event(ev types.Event) types.Event {
	ev.ChainID = sc.chainID
	ev.Step = sc.step
	return ev
}

func (s *Session) send(ctx context.Context, prompt string, scope sendScope) (Reply, error) {
	start := s.now()
	history := s.memory.Context()
	s.memory.Append(types.RoleUser, prompt)
	s.emit(ctx, scope.event(types.Event{Type: types.EventSendStarted, Message: prompt}))

	if scope.route {
		if d, text, ok := s.router.RouteDispatch(ctx, prompt); ok {
			s.memory.Append(types.RoleAssistant, text)
			latency := s.elapsedMs(start)
			s.emit(ctx, types.Event{Type: types.EventToolRouted, ToolName: d.Tool, LatencyMs: latency, Message: text})
			s.logger.Debug().Str("session", s.id).Str("tool", d.Tool).Int64("latency_ms", latency).Msg("prompt answered by tool")
			return Reply{Text: text, LatencyMs: latency, IsToolResponse: true, Tool: d.Tool}, nil
		}
	}

	req := types.Request{
		Model:    s.settings.Model,
		Messages: append(history, types.Message{Role: types.RoleUser, Content: prompt}),
		Generation: types.GenerationConfig{
			Temperature:     s.settings.Temperature,
			MaxOutputTokens: s.settings.MaxTokens,
			TopP:            s.settings.TopP,
			TopK:            s.settings.TopK,
		},
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.provider.Generate(callCtx, req)
	latency := s.elapsedMs(start)
	if err != nil {
		s.usage.Record(analytics.Outcome{Succeeded: false, LatencyMs: latency, ErrorDetail: err.Error()})
		s.emit(ctx, scope.event(types.Event{Type: types.EventSendFailed, Provider: s.provider.Name(), LatencyMs: latency, Error: err.Error()}))
		s.logger.Warn().Err(err).Str("session", s.id).Int64("latency_ms", latency).Msg("remote call failed")
		return Reply{LatencyMs: latency}, err
	}

	tokens := resp.TotalTokens()
	s.memory.Append(types.RoleAssistant, resp.Text)
	s.usage.Record(analytics.Outcome{Succeeded: true, LatencyMs: latency, TokensConsumed: tokens})
	s.emit(ctx, scope.event(types.Event{Type: types.EventSendCompleted, Provider: s.provider.Name(), LatencyMs: latency, Tokens: tokens}))
	s.logger.Debug().Str("session", s.id).Int64("latency_ms", latency).Int("tokens", tokens).Msg("remote call completed")
	return Reply{Text: resp.Text, LatencyMs: latency, TokensUsed: tokens}, nil
}

// ExecuteTool runs a tool directly, outside of chat. Tool failures come back
// as text; the error is only set when the session could not run the call.
func (s *Session) ExecuteTool(ctx context.Context, id string, args json.RawMessage) (string, error) {
	var out string
	err := s.do(ctx, func() {
		out = s.registry.Execute(ctx, id, args)
		s.emit(ctx, types.Event{Type: types.EventToolExecuted, ToolName: id, Message: out})
	})
	return out, err
}
