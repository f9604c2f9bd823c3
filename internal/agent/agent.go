// Package agent runs the turn-based orchestration loop between the user's
// request, the LLM backend, and the graph query tool. A run is a stream
// of ordered events terminated by exactly one done event.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canopyhq/graphpilot/internal/entities"
	"github.com/canopyhq/graphpilot/internal/observability"
	"github.com/canopyhq/graphpilot/internal/retry"
	"github.com/canopyhq/graphpilot/internal/tools"
	"github.com/canopyhq/graphpilot/pkg/models"
)

// eventBuffer decouples the run goroutine from a slow consumer.
const eventBuffer = 256

// Config tunes one QueryAgent instance.
type Config struct {
	// Model is passed through to the provider. Empty uses its default.
	Model string `yaml:"model" json:"model"`

	// SystemPrompt sets the assistant's behavior for every run.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// MaxTurns caps backend round trips per run.
	MaxTurns int `yaml:"max_turns" json:"max_turns"`

	// MaxTokens caps each backend response.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// MaxRetries caps transparent throttling retries per backend call.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// BaseDelay and MaxDelay bound the retry backoff.
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay" json:"max_delay"`

	// MaxTruncations caps context-overflow recoveries per run.
	MaxTruncations int `yaml:"max_truncations" json:"max_truncations"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:       10,
		MaxTokens:      4096,
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		MaxTruncations: 5,
	}
}

func (c Config) sanitized() Config {
	d := DefaultConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = d.MaxTurns
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxTruncations <= 0 {
		c.MaxTruncations = d.MaxTruncations
	}
	return c
}

// Options wires a QueryAgent's collaborators.
type Options struct {
	Provider   LLMProvider
	Tools      *tools.Executor
	Credential models.Credential
	Truncation TruncationStrategy
	Config     Config
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// QueryAgent orchestrates query runs. Safe for concurrent use; each run
// owns its goroutine, event channel, and working copy of the history.
type QueryAgent struct {
	provider   LLMProvider
	tools      *tools.Executor
	credential models.Credential
	truncation TruncationStrategy
	config     Config
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewQueryAgent builds an agent from options. Provider and Tools are
// required; Truncation defaults to DropOldestStrategy.
func NewQueryAgent(opts Options) (*QueryAgent, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("agent: tool executor is required")
	}
	if opts.Truncation == nil {
		opts.Truncation = DropOldestStrategy{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &QueryAgent{
		provider:   opts.Provider,
		tools:      opts.Tools,
		credential: opts.Credential,
		truncation: opts.Truncation,
		config:     opts.Config.sanitized(),
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}, nil
}

// turnResult is one completed assistant turn.
type turnResult struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// Execute starts a run and returns its event stream. The channel is
// closed after the done event. The caller's history slice is never
// mutated; truncation recoveries operate on the run's own copy.
func (a *QueryAgent) Execute(ctx context.Context, prompt string, history []models.Message) (<-chan models.AgentEvent, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("agent: prompt is empty")
	}

	events := make(chan models.AgentEvent, eventBuffer)
	em := newEmitter(events, uuid.NewString())
	go func() {
		defer close(events)
		a.run(ctx, em, prompt, history)
	}()
	return events, nil
}

func (a *QueryAgent) run(ctx context.Context, em *emitter, prompt string, history []models.Message) {
	logger := a.logger.With("run_id", em.runID)
	start := time.Now()

	prior := slices.Clone(history)
	promptMsg := models.TextMessage(models.RoleUser, prompt)
	var session []models.Message

	var usage models.Usage
	seen := make(map[string]struct{})
	var collected []models.Entity
	truncations := 0

	finish := func(status string, payload models.DoneEventPayload) {
		payload.Usage = &usage
		payload.Entities = collected
		if a.metrics != nil {
			a.metrics.QueryCounter.WithLabelValues(status).Inc()
			a.metrics.TurnsPerQuery.Observe(float64(payload.Turns))
		}
		em.emitDone(payload)
		logger.Info("query run finished",
			"status", status,
			"turns", payload.Turns,
			"entities", len(collected),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	for turn := 1; turn <= a.config.MaxTurns; turn++ {
		em.turn = turn

		if ctx.Err() != nil {
			finish("cancelled", models.DoneEventPayload{Turns: turn - 1, Error: "cancelled"})
			return
		}

		res, err := a.completeTurn(ctx, em, logger, &prior, promptMsg, session, &truncations)
		if err != nil {
			if ctx.Err() != nil {
				finish("cancelled", models.DoneEventPayload{Turns: turn - 1, Error: "cancelled"})
				return
			}
			logger.Error("backend call failed", "turn", turn, "error", err)
			finish("error", models.DoneEventPayload{Turns: turn, Error: err.Error()})
			return
		}

		usage.Add(res.Usage)
		a.countTokens(res.Usage)

		// Every turn's model text gets a thinking event and an entity
		// scan, whether or not the turn requested tools.
		if res.Text != "" {
			em.thinking(ctx, res.Text)
			collected = a.collectEntities(ctx, em, res.Text, seen, collected)
		}

		if len(res.ToolCalls) == 0 {
			finish("success", models.DoneEventPayload{
				Success:  true,
				Response: res.Text,
				Turns:    turn,
			})
			return
		}

		session = append(session, assistantMessage(res))

		resultsMsg := models.Message{Role: models.RoleUser}
		for _, call := range res.ToolCalls {
			input, _ := call.ParseInput()
			em.toolCall(ctx, call.ID, call.Name, input.Description)

			result := a.tools.Execute(ctx, call, a.credential)
			if result.IsError {
				em.toolError(ctx, result)
			} else {
				collected = a.collectEntities(ctx, em, result.Content, seen, collected)
			}
			em.toolComplete(ctx, result)

			resultsMsg.Content = append(resultsMsg.Content, models.ContentBlock{
				Type:       models.BlockToolResult,
				ToolResult: &result,
			})
		}
		session = append(session, resultsMsg)
	}

	finish("error", models.DoneEventPayload{
		Turns: a.config.MaxTurns,
		Error: fmt.Sprintf("no final answer after %d turns", a.config.MaxTurns),
	})
}

// completeTurn runs one backend call, recovering from context overflow
// by truncating the prior history and rebuilding the conversation as
// [truncated history, prompt, session]. The current run's own turns are
// never truncated.
func (a *QueryAgent) completeTurn(ctx context.Context, em *emitter, logger *slog.Logger, prior *[]models.Message, promptMsg models.Message, session []models.Message, truncations *int) (*turnResult, error) {
	for {
		msgs := make([]models.Message, 0, len(*prior)+1+len(session))
		msgs = append(msgs, *prior...)
		msgs = append(msgs, promptMsg)
		msgs = append(msgs, session...)

		res, err := a.completeWithRetry(ctx, em, logger, msgs)
		if err == nil {
			return res, nil
		}
		if !IsContextOverflow(err) || *truncations >= a.config.MaxTruncations {
			return nil, err
		}

		original := len(*prior)
		kept, dropped := a.truncation.Truncate(*prior, *truncations+1)
		if dropped == 0 {
			return nil, err
		}
		*truncations++
		*prior = kept

		if a.metrics != nil {
			a.metrics.ContextTruncations.Inc()
		}
		logger.Warn("context overflow, truncating history",
			"attempt", *truncations,
			"dropped", dropped,
			"remaining", len(kept),
		)
		em.contextTruncated(ctx, *truncations, original, len(kept),
			fmt.Sprintf("conversation too long, dropped %d oldest messages", dropped))
	}
}

// completeWithRetry wraps one backend call with transparent throttling
// retries. Each backoff is surfaced to the consumer as a retry event.
func (a *QueryAgent) completeWithRetry(ctx context.Context, em *emitter, logger *slog.Logger, msgs []models.Message) (*turnResult, error) {
	policy := retry.Policy{
		MaxRetries: a.config.MaxRetries,
		BaseDelay:  a.config.BaseDelay,
		MaxDelay:   a.config.MaxDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			if a.metrics != nil {
				a.metrics.LLMRetryCounter.Inc()
			}
			logger.Warn("backend throttled, backing off",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			em.retry(ctx, attempt, delay,
				fmt.Sprintf("backend is rate limiting, retrying in %s", delay.Round(time.Second)))
		},
	}

	res, outcome := retry.DoWithValue(ctx, policy, IsThrottling, func() (*turnResult, error) {
		return a.streamTurn(ctx, em, msgs)
	})
	return res, outcome.Err
}

// streamTurn consumes one streaming backend response, forwarding text
// deltas as they arrive and assembling the turn's tool calls and usage.
func (a *QueryAgent) streamTurn(ctx context.Context, em *emitter, msgs []models.Message) (*turnResult, error) {
	req := &CompletionRequest{
		Model:     a.config.Model,
		System:    a.config.SystemPrompt,
		Messages:  msgs,
		Tools:     []tools.Spec{a.tools.Spec()},
		MaxTokens: a.config.MaxTokens,
	}

	start := time.Now()
	chunks, err := a.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &turnResult{}
	var text strings.Builder
	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return nil, chunk.Error
		case chunk.ToolCall != nil:
			res.ToolCalls = append(res.ToolCalls, *chunk.ToolCall)
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			em.text(ctx, chunk.Text)
		case chunk.Done:
			res.Usage = models.Usage{
				InputTokens:  chunk.InputTokens,
				OutputTokens: chunk.OutputTokens,
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.metrics != nil {
		model := a.config.Model
		if model == "" {
			model = a.provider.Name()
		}
		a.metrics.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	}
	res.Text = text.String()
	return res, nil
}

// collectEntities extracts URN references from text, keeping only ones
// this run has not reported yet, and emits them as a single event.
func (a *QueryAgent) collectEntities(ctx context.Context, em *emitter, text string, seen map[string]struct{}, acc []models.Entity) []models.Entity {
	var fresh []models.Entity
	for _, ent := range entities.Extract(text) {
		if _, ok := seen[ent.URN]; ok {
			continue
		}
		seen[ent.URN] = struct{}{}
		fresh = append(fresh, ent)
	}
	if len(fresh) > 0 {
		em.entities(ctx, fresh)
		acc = append(acc, fresh...)
	}
	return acc
}

func (a *QueryAgent) countTokens(u models.Usage) {
	if a.metrics == nil {
		return
	}
	model := a.config.Model
	if model == "" {
		model = a.provider.Name()
	}
	a.metrics.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(u.InputTokens))
	a.metrics.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(u.OutputTokens))
}

func assistantMessage(res *turnResult) models.Message {
	msg := models.Message{Role: models.RoleAssistant}
	if res.Text != "" {
		msg.Content = append(msg.Content, models.ContentBlock{Type: models.BlockText, Text: res.Text})
	}
	for i := range res.ToolCalls {
		call := res.ToolCalls[i]
		msg.Content = append(msg.Content, models.ContentBlock{Type: models.BlockToolUse, ToolCall: &call})
	}
	return msg
}
