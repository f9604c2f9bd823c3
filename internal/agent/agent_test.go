package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
	"github.com/canopyhq/graphpilot/internal/tools"
	"github.com/canopyhq/graphpilot/pkg/models"
)

// scriptedProvider replays one prepared chunk sequence per Complete call.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]*CompletionChunk
	requests []*CompletionRequest
	calls    int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.calls >= len(p.scripts) {
		return nil, fmt.Errorf("unexpected call %d", p.calls+1)
	}
	script := p.scripts[p.calls]
	p.calls++
	return chunkStream(script), nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func chunkStream(script []*CompletionChunk) <-chan *CompletionChunk {
	ch := make(chan *CompletionChunk, len(script))
	for _, c := range script {
		ch <- c
	}
	close(ch)
	return ch
}

func textTurn(parts ...string) []*CompletionChunk {
	var script []*CompletionChunk
	for _, p := range parts {
		script = append(script, &CompletionChunk{Text: p})
	}
	return append(script, &CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5})
}

func toolTurn(callID, query string) []*CompletionChunk {
	input, _ := json.Marshal(models.ToolInput{Query: query, Description: "look it up"})
	return []*CompletionChunk{
		{Text: "Let me check."},
		{ToolCall: &models.ToolCall{ID: callID, Name: tools.ToolName, Input: input}},
		{Done: true, InputTokens: 10, OutputTokens: 5},
	}
}

func errorTurn(err error) []*CompletionChunk {
	return []*CompletionChunk{{Error: err}}
}

type fakeGraph struct {
	data []byte
	err  error
}

func (g *fakeGraph) Query(ctx context.Context, dql string) ([]byte, error) {
	return g.data, g.err
}

func newTestAgent(t *testing.T, provider LLMProvider, cfg Config, graph tools.GraphQuerier) *QueryAgent {
	t.Helper()
	if graph == nil {
		graph = &fakeGraph{data: []byte(`{"q":[]}`)}
	}
	store, err := audit.NewSQLStore("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	exec := tools.NewExecutor(graph, ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		tools.NewTruncator(0), audit.NewLogger(store, nil), nil, nil)

	agent, err := NewQueryAgent(Options{
		Provider:   provider,
		Tools:      exec,
		Credential: models.Credential{ID: "cred-1", RateLimitPerHour: 100},
		Config:     cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	return agent
}

// drain collects the full event stream and verifies its structural
// invariants: strictly increasing sequence numbers and exactly one done
// event, in final position.
func drain(t *testing.T, ch <-chan models.AgentEvent) ([]models.AgentEvent, *models.DoneEventPayload) {
	t.Helper()
	var events []models.AgentEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("stream produced no events")
	}

	var lastSeq uint64
	doneCount := 0
	for i, ev := range events {
		if ev.Sequence <= lastSeq {
			t.Errorf("event %d: sequence %d not increasing after %d", i, ev.Sequence, lastSeq)
		}
		lastSeq = ev.Sequence
		if ev.Type == models.EventDone {
			doneCount++
			if i != len(events)-1 {
				t.Errorf("done event at position %d of %d, want last", i, len(events))
			}
		}
	}
	if doneCount != 1 {
		t.Fatalf("done events = %d, want exactly 1", doneCount)
	}
	return events, events[len(events)-1].Done
}

func eventsOfType(events []models.AgentEvent, typ models.AgentEventType) []models.AgentEvent {
	var out []models.AgentEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestExecute_DirectAnswer(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		textTurn("The checkout service ", "is owned by the payments team."),
	}}
	agent := newTestAgent(t, provider, Config{}, nil)

	ch, err := agent.Execute(context.Background(), "who owns checkout?", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if !done.Success {
		t.Fatalf("done.Success = false, error = %q", done.Error)
	}
	if done.Response != "The checkout service is owned by the payments team." {
		t.Errorf("response = %q", done.Response)
	}
	if done.Turns != 1 {
		t.Errorf("turns = %d, want 1", done.Turns)
	}
	if done.Usage == nil || done.Usage.InputTokens != 10 || done.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", done.Usage)
	}
	if got := len(eventsOfType(events, models.EventText)); got != 2 {
		t.Errorf("text events = %d, want 2", got)
	}
	if got := len(eventsOfType(events, models.EventThinking)); got != 1 {
		t.Errorf("thinking events = %d, want 1 for the final turn's text", got)
	}
}

func TestExecute_EntitiesInIntermediateTurnText(t *testing.T) {
	input, _ := json.Marshal(models.ToolInput{Query: "{ q(func: has(name)) { uid } }", Description: "check the db"})
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		{
			{Text: "Checking <urn:Service:alpha-db> first."},
			{ToolCall: &models.ToolCall{ID: "tc-1", Name: tools.ToolName, Input: input}},
			{Done: true, InputTokens: 10, OutputTokens: 5},
		},
		textTurn("All good."),
	}}
	agent := newTestAgent(t, provider, Config{}, nil)

	ch, err := agent.Execute(context.Background(), "is the db healthy?", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if !done.Success {
		t.Fatalf("done = %+v", done)
	}

	// The URN appears only in turn 1's text, never in a tool result or
	// the final answer. It must still be extracted.
	ents := eventsOfType(events, models.EventEntities)
	if len(ents) != 1 || len(ents[0].Entities.Entities) != 1 {
		t.Fatalf("entity events = %+v", ents)
	}
	if ents[0].Turn != 1 {
		t.Errorf("entities emitted on turn %d, want 1", ents[0].Turn)
	}
	ent := ents[0].Entities.Entities[0]
	if ent.URN != "<urn:Service:alpha-db>" || ent.DisplayName != "alpha db" {
		t.Errorf("entity = %+v", ent)
	}
	if len(done.Entities) != 1 || done.Entities[0].ID != "alpha-db" {
		t.Errorf("done entities = %+v", done.Entities)
	}
}

func TestExecute_ToolRoundTripExtractsEntities(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolTurn("tc-1", "{ q(func: type(Service)) { uid } }"),
		textTurn("Found it."),
	}}
	graph := &fakeGraph{data: []byte(`{"q":[{"ref":"<urn:Service:checkout-api>"}]}`)}
	agent := newTestAgent(t, provider, Config{}, graph)

	ch, err := agent.Execute(context.Background(), "find the service", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if !done.Success || done.Turns != 2 {
		t.Fatalf("done = %+v", done)
	}

	calls := eventsOfType(events, models.EventToolCall)
	completes := eventsOfType(events, models.EventToolComplete)
	if len(calls) != 1 || len(completes) != 1 {
		t.Fatalf("tool events: %d calls, %d completes", len(calls), len(completes))
	}
	if calls[0].Tool.CallID != "tc-1" || completes[0].Tool.CallID != "tc-1" {
		t.Error("tool events carry wrong call ID")
	}
	if calls[0].Sequence >= completes[0].Sequence {
		t.Error("tool_complete did not follow tool_call")
	}

	ents := eventsOfType(events, models.EventEntities)
	if len(ents) != 1 || len(ents[0].Entities.Entities) != 1 {
		t.Fatalf("entity events = %+v", ents)
	}
	ent := ents[0].Entities.Entities[0]
	if ent.URN != "<urn:Service:checkout-api>" || ent.Type != "Service" || ent.DisplayName != "checkout api" {
		t.Errorf("entity = %+v", ent)
	}
	if len(done.Entities) != 1 {
		t.Errorf("done entities = %d, want 1", len(done.Entities))
	}

	// Second backend call must carry the assistant turn and tool result.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != models.RoleUser || !startsWithToolResult(last) {
		t.Errorf("last message of second request = %+v", last)
	}
}

func TestExecute_ToolErrorFedBackToModel(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		toolTurn("tc-1", "{ set { <a> <b> <c> } }"),
		textTurn("I cannot modify the graph."),
	}}
	agent := newTestAgent(t, provider, Config{}, nil)

	ch, err := agent.Execute(context.Background(), "delete the service", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if !done.Success {
		t.Fatalf("tool failure must not end the run: %q", done.Error)
	}
	if len(eventsOfType(events, models.EventToolError)) != 1 {
		t.Error("expected one tool_error event")
	}
	completes := eventsOfType(events, models.EventToolComplete)
	if len(completes) != 1 || !completes[0].Tool.IsError {
		t.Errorf("tool_complete = %+v", completes)
	}

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !startsWithToolResult(last) || !last.Content[0].ToolResult.IsError {
		t.Error("error result was not fed back to the model")
	}
}

func TestExecute_ThrottlingRetried(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		errorTurn(&ProviderError{Provider: "scripted", StatusCode: 429, Message: "rate limited"}),
		textTurn("done"),
	}}
	agent := newTestAgent(t, provider, Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}, nil)

	ch, err := agent.Execute(context.Background(), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if !done.Success {
		t.Fatalf("done = %+v", done)
	}
	retries := eventsOfType(events, models.EventRetry)
	if len(retries) != 1 {
		t.Fatalf("retry events = %d, want 1", len(retries))
	}
	if retries[0].Retry.Attempt != 1 || retries[0].Retry.Message == "" {
		t.Errorf("retry payload = %+v", retries[0].Retry)
	}
	if provider.calls != 2 {
		t.Errorf("backend calls = %d, want 2", provider.calls)
	}
}

func TestExecute_NonRetryableErrorFailsRun(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*CompletionChunk{
		errorTurn(&ProviderError{Provider: "scripted", StatusCode: 401, Message: "invalid api key"}),
	}}
	agent := newTestAgent(t, provider, Config{}, nil)

	ch, err := agent.Execute(context.Background(), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, done := drain(t, ch)

	if done.Success {
		t.Fatal("run succeeded despite backend failure")
	}
	if !strings.Contains(done.Error, "invalid api key") {
		t.Errorf("done.Error = %q", done.Error)
	}
	if provider.calls != 1 {
		t.Errorf("backend calls = %d, want 1 (no retry)", provider.calls)
	}
}

// overflowProvider rejects any request whose conversation exceeds limit
// messages, mimicking a backend context window.
type overflowProvider struct {
	limit int
	calls int
}

func (p *overflowProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls++
	if len(req.Messages) > p.limit {
		return chunkStream(errorTurn(&ProviderError{
			Provider: "overflow", StatusCode: 413, Message: "prompt is too long",
		})), nil
	}
	return chunkStream(textTurn("recovered")), nil
}

func (p *overflowProvider) Name() string { return "overflow" }

func TestExecute_ContextOverflowRecovered(t *testing.T) {
	agent := newTestAgent(t, &overflowProvider{limit: 4}, Config{}, nil)

	ch, err := agent.Execute(context.Background(), "summarize", textHistory(6))
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if !done.Success || done.Response != "recovered" {
		t.Fatalf("done = %+v", done)
	}
	truncs := eventsOfType(events, models.EventContextTruncated)
	if len(truncs) != 1 {
		t.Fatalf("truncation events = %d, want 1", len(truncs))
	}
	payload := truncs[0].Context
	if payload.Attempt != 1 || payload.DroppedCount != 3 || payload.NewCount != 3 {
		t.Errorf("truncation payload = %+v", payload)
	}
}

func TestExecute_ContextOverflowUnrecoverable(t *testing.T) {
	agent := newTestAgent(t, &overflowProvider{limit: 0}, Config{}, nil)

	ch, err := agent.Execute(context.Background(), "summarize", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, done := drain(t, ch)

	if done.Success {
		t.Fatal("run succeeded despite unrecoverable overflow")
	}
	if !strings.Contains(done.Error, "prompt is too long") {
		t.Errorf("done.Error = %q", done.Error)
	}
}

// loopingProvider requests a tool on every turn and never answers.
type loopingProvider struct {
	calls int
}

func (p *loopingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.calls++
	return chunkStream(toolTurn(fmt.Sprintf("tc-%d", p.calls), "{ q(func: has(name)) { uid } }")), nil
}

func (p *loopingProvider) Name() string { return "looping" }

func TestExecute_MaxTurnsExceeded(t *testing.T) {
	provider := &loopingProvider{}
	agent := newTestAgent(t, provider, Config{MaxTurns: 2}, nil)

	ch, err := agent.Execute(context.Background(), "keep digging", nil)
	if err != nil {
		t.Fatal(err)
	}
	events, done := drain(t, ch)

	if done.Success {
		t.Fatal("run succeeded despite exhausting turns")
	}
	if !strings.Contains(done.Error, "2 turns") {
		t.Errorf("done.Error = %q", done.Error)
	}
	if provider.calls != 2 {
		t.Errorf("backend calls = %d, want 2", provider.calls)
	}
	if got := len(eventsOfType(events, models.EventToolCall)); got != 2 {
		t.Errorf("tool calls = %d, want 2", got)
	}
}

func TestExecute_CancelledBeforeFirstTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{}
	agent := newTestAgent(t, provider, Config{}, nil)

	ch, err := agent.Execute(ctx, "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, done := drain(t, ch)

	if done.Success {
		t.Fatal("cancelled run reported success")
	}
	if done.Error != "cancelled" {
		t.Errorf("done.Error = %q, want cancelled", done.Error)
	}
	if provider.calls != 0 {
		t.Errorf("backend calls = %d, want 0", provider.calls)
	}
}

func TestExecute_EmptyPromptRejected(t *testing.T) {
	agent := newTestAgent(t, &scriptedProvider{}, Config{}, nil)
	if _, err := agent.Execute(context.Background(), "  \n ", nil); err == nil {
		t.Fatal("empty prompt accepted")
	}
}

func TestNewQueryAgent_RequiresProvider(t *testing.T) {
	if _, err := NewQueryAgent(Options{}); err == nil {
		t.Fatal("missing provider accepted")
	}
}
