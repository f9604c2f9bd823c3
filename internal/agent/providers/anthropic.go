// Package providers implements LLM backends for the agent turn loop.
//
// Providers convert between the orchestrator's message model and each
// backend's native API, and surface failures as agent.ProviderError so
// the turn loop can classify throttling and context overflow without
// knowing backend internals. Providers do not retry; the turn loop owns
// retry policy so it can emit progress events while backing off.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/canopyhq/graphpilot/internal/agent"
	"github.com/canopyhq/graphpilot/internal/tools"
	"github.com/canopyhq/graphpilot/pkg/models"
)

// defaultAnthropicModel is used when a request does not name a model.
const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive no-op events before the stream
// is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.LLMProvider on the Anthropic API.
// Safe for concurrent use; each Complete call owns its stream.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures the provider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string `yaml:"api_key" json:"api_key"`

	// BaseURL overrides the API endpoint. Empty uses the default.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// DefaultModel is used when a request does not specify one.
	DefaultModel string `yaml:"default_model" json:"default_model"`
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used in logs and metrics.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends one request and streams the response. The returned
// channel closes when the stream finishes; failures arrive as a chunk
// with Error set.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.processStream(stream, chunks, string(params.Model))
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		converted, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = converted
	}
	return params, nil
}

// streamIterator is the portion of the SDK stream the processor needs,
// split out so tests can feed synthetic event sequences.
type streamIterator interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// processStream converts SSE events into completion chunks. Text deltas
// are forwarded as they arrive; a tool call is forwarded once its input
// JSON has been fully assembled across delta events.
func (p *AnthropicProvider) processStream(stream streamIterator, chunks chan<- *agent.CompletionChunk, model string) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEvents := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}
			return

		case "error":
			chunks <- &agent.CompletionChunk{
				Error: wrapAnthropicError(errors.New("anthropic: stream error"), model),
			}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &agent.CompletionChunk{
					Error: wrapAnthropicError(
						fmt.Errorf("anthropic: malformed stream: %d consecutive empty events", emptyEvents),
						model,
					),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &agent.CompletionChunk{Error: wrapAnthropicError(err, model)}
	}
}

// convertMessages maps conversation messages onto Anthropic content
// blocks. Messages whose blocks all convert to nothing are skipped.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockToolUse:
				if block.ToolCall == nil {
					continue
				}
				var input map[string]interface{}
				if err := json.Unmarshal(block.ToolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", block.ToolCall.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(block.ToolCall.ID, input, block.ToolCall.Name))
			case models.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				content = append(content, anthropic.NewToolResultBlock(
					block.ToolResult.ToolCallID,
					block.ToolResult.Content,
					block.ToolResult.IsError,
				))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(specs []tools.Spec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", spec.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", spec.Name)
		}
		param.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, param)
	}
	return result, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// wrapAnthropicError lifts SDK errors into agent.ProviderError, keeping
// the HTTP status so the turn loop can classify throttling (429) and
// context overflow (413) without string matching.
func wrapAnthropicError(err error, model string) error {
	if err == nil {
		return nil
	}
	var perr *agent.ProviderError
	if errors.As(err, &perr) {
		return err
	}

	wrapped := &agent.ProviderError{
		Provider: "anthropic",
		Model:    model,
		Cause:    err,
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		wrapped.StatusCode = apiErr.StatusCode
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				wrapped.Message = payload.Error.Message
			}
		}
	}
	if wrapped.Message == "" {
		wrapped.Message = err.Error()
	}
	return wrapped
}
