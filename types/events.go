package types

import "time"

type EventType string

const (
	EventSendStarted      EventType = "send.started"
	EventToolRouted       EventType = "send.tool_routed"
	EventSendCompleted    EventType = "send.completed"
	EventSendFailed       EventType = "send.failed"
	EventToolExecuted     EventType = "tool.executed"
	EventChainStarted     EventType = "chain.started"
	EventChainStepStarted EventType = "chain.step.started"
	EventChainStepDone    EventType = "chain.step.completed"
	EventChainCompleted   EventType = "chain.completed"
	EventChainFailed      EventType = "chain.failed"
	EventMemoryCleared    EventType = "memory.cleared"
)

type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
	ChainID   string    `json:"chainId,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Step      int       `json:"step,omitempty"`
	ToolName  string    `json:"toolName,omitempty"`
	LatencyMs int64     `json:"latencyMs,omitempty"`
	Tokens    int       `json:"tokens,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}
