package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/canopyhq/graphpilot/internal/audit"
	"github.com/canopyhq/graphpilot/internal/ratelimit"
	"github.com/canopyhq/graphpilot/pkg/models"
)

type stubGraph struct {
	data  []byte
	err   error
	calls int
}

func (s *stubGraph) Query(ctx context.Context, dql string) ([]byte, error) {
	s.calls++
	return s.data, s.err
}

func toolCall(id, query string) models.ToolCall {
	input, _ := json.Marshal(models.ToolInput{Query: query, Description: "test"})
	return models.ToolCall{ID: id, Name: ToolName, Input: input}
}

func testCredential(limit int) models.Credential {
	return models.Credential{ID: "cred-1", RateLimitPerHour: limit}
}

func newTestExecutor(t *testing.T, g GraphQuerier, limiter *ratelimit.Limiter) (*Executor, *audit.Logger) {
	t.Helper()
	store, err := audit.NewSQLStore("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	auditor := audit.NewLogger(store, nil)
	return NewExecutor(g, limiter, NewTruncator(1024), auditor, nil, nil), auditor
}

func TestExecute_Success(t *testing.T) {
	g := &stubGraph{data: []byte(`{"q":[{"uid":"0x1"}]}`)}
	exec, auditor := newTestExecutor(t, g, nil)

	res := exec.Execute(context.Background(), toolCall("tc-1", "{ q(func: has(name)) { uid } }"), testCredential(10))
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.ToolCallID != "tc-1" {
		t.Errorf("tool call id = %q", res.ToolCallID)
	}
	if !strings.Contains(res.Content, "0x1") {
		t.Errorf("content = %q", res.Content)
	}

	records, err := auditor.History(context.Background(), "cred-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || !records[0].Success {
		t.Errorf("audit records = %+v, want one successful record", records)
	}
}

func TestExecute_RejectsMutationWithoutCallOrAudit(t *testing.T) {
	g := &stubGraph{}
	exec, auditor := newTestExecutor(t, g, nil)

	res := exec.Execute(context.Background(), toolCall("tc-1", "{ set { <a> <b> <c> } }"), testCredential(10))
	if !res.IsError {
		t.Fatal("mutation should produce an error result")
	}
	if g.calls != 0 {
		t.Errorf("graph calls = %d, want 0", g.calls)
	}

	records, _ := auditor.History(context.Background(), "cred-1", 10)
	if len(records) != 0 {
		t.Errorf("audit records = %d, want 0 for validation rejection", len(records))
	}
}

func TestExecute_RateLimitRejection(t *testing.T) {
	g := &stubGraph{data: []byte(`{}`)}
	limiter := ratelimit.NewLimiter(ratelimit.Config{LimitPerHour: 1, Enabled: true})
	exec, auditor := newTestExecutor(t, g, limiter)
	cred := testCredential(1)

	first := exec.Execute(context.Background(), toolCall("tc-1", "{ q(func: has(name)) { uid } }"), cred)
	if first.IsError {
		t.Fatalf("first call failed: %s", first.Content)
	}

	second := exec.Execute(context.Background(), toolCall("tc-2", "{ q(func: has(name)) { uid } }"), cred)
	if !second.IsError {
		t.Fatal("second call should be rate limited")
	}
	if !strings.Contains(second.Content, "retry after") {
		t.Errorf("content = %q, want retry-after hint", second.Content)
	}
	if second.RetryAfterSeconds <= 0 || second.RetryAfterSeconds > 3600 {
		t.Errorf("retry after = %d seconds, want within the hour window", second.RetryAfterSeconds)
	}
	if g.calls != 1 {
		t.Errorf("graph calls = %d, want 1", g.calls)
	}

	records, _ := auditor.History(context.Background(), "cred-1", 10)
	if len(records) != 1 {
		t.Errorf("audit records = %d, want 1 (rate-limit rejection is not audited)", len(records))
	}
}

func TestExecute_GraphErrorIsAuditedAndReturned(t *testing.T) {
	g := &stubGraph{err: errors.New("connection refused")}
	exec, auditor := newTestExecutor(t, g, nil)

	res := exec.Execute(context.Background(), toolCall("tc-1", "{ q(func: has(name)) { uid } }"), testCredential(10))
	if !res.IsError {
		t.Fatal("graph failure should produce an error result")
	}
	if !strings.Contains(res.Content, "connection refused") {
		t.Errorf("content = %q", res.Content)
	}

	records, _ := auditor.History(context.Background(), "cred-1", 10)
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	if records[0].Success {
		t.Error("failed execution recorded as success")
	}
	if records[0].Error == "" {
		t.Error("audit record missing error text")
	}
}

func TestExecute_TruncatesLargeResults(t *testing.T) {
	large := `{"items":["` + strings.Repeat("x", 5000) + `"]}`
	g := &stubGraph{data: []byte(large)}
	exec, _ := newTestExecutor(t, g, nil)

	res := exec.Execute(context.Background(), toolCall("tc-1", "{ q(func: has(name)) { uid } }"), testCredential(10))
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	if len(res.Content) > 1024 {
		t.Errorf("content = %d bytes, want <= 1024", len(res.Content))
	}
	if !strings.Contains(res.Content, TruncationMarker) {
		t.Error("content missing truncation marker")
	}
}

func TestExecute_InvalidInput(t *testing.T) {
	g := &stubGraph{}
	exec, _ := newTestExecutor(t, g, nil)

	call := models.ToolCall{ID: "tc-1", Name: ToolName, Input: json.RawMessage(`not json`)}
	res := exec.Execute(context.Background(), call, testCredential(10))
	if !res.IsError {
		t.Fatal("invalid input should produce an error result")
	}
	if g.calls != 0 {
		t.Errorf("graph calls = %d, want 0", g.calls)
	}
}
