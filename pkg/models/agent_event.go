package models

import (
	"time"
)

// AgentEvent is the unified event model streamed to the caller during a
// query run. Events are immutable, single-consumer, and emitted in strict
// causal order: a tool_complete for a call ID always follows the tool_call
// for that ID, and exactly one done event terminates the stream.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees
//   - Versioned and forward-compatible (add fields, don't rename/remove)
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run.
	Sequence uint64 `json:"seq"`

	// RunID identifies the query run.
	RunID string `json:"run_id,omitempty"`

	// Turn is the 1-based turn number within the run.
	Turn int `json:"turn,omitempty"`

	// Exactly one payload is non-nil for a given Type.
	Thinking *ThinkingEventPayload  `json:"thinking,omitempty"`
	Stream   *StreamEventPayload    `json:"stream,omitempty"`
	Tool     *ToolEventPayload      `json:"tool,omitempty"`
	Entities *EntitiesEventPayload  `json:"entities,omitempty"`
	Retry    *RetryEventPayload     `json:"retry,omitempty"`
	Context  *TruncationEventPayload `json:"context,omitempty"`
	Done     *DoneEventPayload      `json:"done,omitempty"`
}

// AgentEventType identifies the kind of agent event.
type AgentEventType string

const (
	// EventThinking carries the full text of one assistant turn.
	EventThinking AgentEventType = "thinking"
	// EventText carries an incremental text delta while streaming.
	EventText AgentEventType = "text"
	// EventToolCall announces a tool execution about to start.
	EventToolCall AgentEventType = "tool_call"
	// EventToolComplete reports a finished tool execution (success or error).
	EventToolComplete AgentEventType = "tool_complete"
	// EventToolError reports a failed tool execution.
	EventToolError AgentEventType = "tool_error"
	// EventEntities carries entity references extracted from model text.
	EventEntities AgentEventType = "entities"
	// EventRetry reports a transparent backend retry in progress.
	EventRetry AgentEventType = "retry"
	// EventContextTruncated reports a context-overflow recovery.
	EventContextTruncated AgentEventType = "context_truncated"
	// EventDone terminates the stream. Emitted exactly once per run.
	EventDone AgentEventType = "done"
)

// ThinkingEventPayload is the complete text of one assistant turn.
type ThinkingEventPayload struct {
	Text string `json:"text"`
}

// StreamEventPayload is an incremental model text delta.
type StreamEventPayload struct {
	Delta string `json:"delta"`
}

// ToolEventPayload describes tool call lifecycle events.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id"`

	// Name is the tool name (tool_call events).
	Name string `json:"name,omitempty"`

	// Description is the model's stated intent (tool_call events).
	Description string `json:"description,omitempty"`

	// For tool_complete / tool_error events:
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// RetryAfterSeconds is carried from rate-limited tool results.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// EntitiesEventPayload carries entities extracted from one text segment.
type EntitiesEventPayload struct {
	Entities []Entity `json:"entities"`
}

// RetryEventPayload reports one backend retry attempt. Consumers
// collapsing repeated retry notices should key on the run's last retry
// event rather than accumulating them.
type RetryEventPayload struct {
	Attempt      int    `json:"attempt"`
	DelayMs      int64  `json:"delay_ms"`
	DelaySeconds int    `json:"delay_seconds"`
	Message      string `json:"message"`
}

// TruncationEventPayload reports a context-overflow truncation retry.
type TruncationEventPayload struct {
	Attempt       int    `json:"attempt"`
	OriginalCount int    `json:"original_count"`
	NewCount      int    `json:"new_count"`
	DroppedCount  int    `json:"dropped_count"`
	Message       string `json:"message"`
}

// DoneEventPayload terminates the event stream.
type DoneEventPayload struct {
	Success  bool     `json:"success"`
	Response string   `json:"response,omitempty"`
	Turns    int      `json:"turns"`
	Entities []Entity `json:"entities,omitempty"`
	Usage    *Usage   `json:"usage,omitempty"`
	Error    string   `json:"error,omitempty"`
}
