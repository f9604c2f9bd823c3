// Package models provides domain types for the graphpilot query orchestrator.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block within a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message. Exactly one of the payload
// fields is set, selected by Type.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is one turn of the conversation sent to or received from the
// LLM backend. The history supplied by the caller is never mutated in
// place; the orchestrator appends to its own working copy.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a message holding a single text block.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// Text returns the concatenation of the message's text blocks.
func (m Message) Text() string {
	out := ""
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the tool-use blocks of the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Content {
		if b.Type == BlockToolUse && b.ToolCall != nil {
			calls = append(calls, *b.ToolCall)
		}
	}
	return calls
}

// ToolInput is the structured input of a graph query tool call.
type ToolInput struct {
	// Query is the raw read-only DQL query text.
	Query string `json:"query"`
	// Description is the model's human-readable intent for the query.
	Description string `json:"description,omitempty"`
}

// ToolCall represents the LLM's request to execute a tool. Produced by
// the backend within a turn and consumed exactly once by the executor.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ParseInput decodes the raw tool input into a ToolInput.
func (t ToolCall) ParseInput() (ToolInput, error) {
	var in ToolInput
	err := json.Unmarshal(t.Input, &in)
	return in, err
}

// ToolResult represents the outcome of a tool execution. It is appended
// back into the conversation as a tool_result content block.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`

	// RetryAfterSeconds is set on rate-limit rejections: how long until
	// the credential's window admits another request.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// Credential is the narrow identity handed to the orchestrator by the
// (external) auth layer. It carries only what tool execution needs.
type Credential struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	RateLimitPerHour int    `json:"rate_limit_per_hour"`
}

// Usage accumulates backend token accounting across turns.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
