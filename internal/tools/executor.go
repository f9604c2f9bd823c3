package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/observability"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
	"github.com/canopyhq/graphpilot/pkg/models"
)

// ToolName is the name the LLM backend uses to request a graph query.
const ToolName = "query_graph"

// toolDescription tells the model what the tool does and what it accepts.
const toolDescription = "Run a read-only DQL query against the graph store. " +
	"Mutations (set, delete, upsert) are rejected."

// inputSchema is the JSON schema for the tool's input.
var inputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The read-only DQL query to execute"
		},
		"description": {
			"type": "string",
			"description": "A short human-readable description of what the query looks up"
		}
	},
	"required": ["query"]
}`)

// Spec describes the tool to the LLM backend.
type Spec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// GraphQuerier issues the external read-only query.
type GraphQuerier interface {
	Query(ctx context.Context, dql string) ([]byte, error)
}

// Executor validates, rate-limits, executes, truncates, and audits a
// single graph query tool call.
type Executor struct {
	graph     GraphQuerier
	limiter   *ratelimit.Limiter
	truncator *Truncator
	auditor   *audit.Logger
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewExecutor wires the tool execution pipeline. metrics may be nil.
func NewExecutor(graph GraphQuerier, limiter *ratelimit.Limiter, truncator *Truncator, auditor *audit.Logger, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if truncator == nil {
		truncator = NewTruncator(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		graph:     graph,
		limiter:   limiter,
		truncator: truncator,
		auditor:   auditor,
		metrics:   metrics,
		logger:    logger,
	}
}

// Spec returns the tool definition advertised to the LLM backend.
func (e *Executor) Spec() Spec {
	return Spec{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: inputSchema,
	}
}

// Execute runs one tool call for the given credential. Each step is a hard
// gate: validation and rate-limit rejections return error results without
// touching the external store and without an audit record, since nothing
// executed. Attempts that reach the external call are always audited,
// success or failure.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, cred models.Credential) models.ToolResult {
	input, err := call.ParseInput()
	if err != nil {
		e.countTool("rejected")
		return errorResult(call.ID, 0, fmt.Sprintf("invalid tool input: %v", err))
	}

	if err := ValidateQuery(input.Query); err != nil {
		e.countTool("rejected")
		e.logger.Warn("query rejected by validator",
			"credential_id", cred.ID,
			"tool_call_id", call.ID,
		)
		return errorResult(call.ID, 0, err.Error())
	}

	if e.limiter != nil {
		decision := e.limiter.Check(cred.ID, cred.RateLimitPerHour)
		if !decision.Allowed {
			e.countTool("rate_limited")
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			result := errorResult(call.ID, 0, fmt.Sprintf(
				"rate limit exceeded: %d requests in the last hour; retry after %d seconds",
				decision.CurrentCount, retryAfter,
			))
			result.RetryAfterSeconds = retryAfter
			return result
		}
	}

	start := time.Now()
	data, err := e.graph.Query(ctx, input.Query)
	elapsed := time.Since(start)

	if e.metrics != nil {
		e.metrics.ToolExecutionDuration.Observe(elapsed.Seconds())
	}

	if err != nil {
		e.countTool("error")
		if e.auditor != nil {
			e.auditor.Record(ctx, cred.ID, input.Query, elapsed, false, err.Error())
		}
		return errorResult(call.ID, elapsed, fmt.Sprintf("query failed: %v", err))
	}

	payload := e.truncator.Truncate(data)
	e.countTool("success")
	if e.auditor != nil {
		e.auditor.Record(ctx, cred.ID, input.Query, elapsed, true, "")
	}

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    string(payload),
		Elapsed:    elapsed,
	}
}

func (e *Executor) countTool(status string) {
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(status).Inc()
	}
}

func errorResult(callID string, elapsed time.Duration, message string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: callID,
		Content:    message,
		IsError:    true,
		Elapsed:    elapsed,
	}
}
