package agent

import (
	"context"

	"github.com/canopyhq/graphpilot/internal/tools"
	"github.com/canopyhq/graphpilot/pkg/models"
)

// LLMProvider is the backend that generates assistant turns.
//
// Implementations must be safe for concurrent use; each Complete call
// owns its stream and goroutine.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. The
	// channel is closed when the stream completes or fails; a failed
	// stream delivers a chunk with Error set before closing.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// CompletionRequest contains all parameters for one backend call.
type CompletionRequest struct {
	// Model is the backend model identifier. Empty uses the provider default.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled separately from
	// messages by the backend API.
	System string `json:"system,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools the model may request. Empty disables tool use.
	Tools []tools.Spec `json:"tools,omitempty"`

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionChunk is one unit of a streaming backend response. Text
// arrives incrementally; tool calls arrive complete once their input
// has been fully assembled; the final chunk has Done set and carries
// token usage.
type CompletionChunk struct {
	// Text is a partial response text delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// InputTokens and OutputTokens are populated on the Done chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}
