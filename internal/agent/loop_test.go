package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// scriptedModel returns canned responses in order, repeating the last one
// when the script runs out.
type scriptedModel struct {
	mu       sync.Mutex
	calls    int
	script   []*providers.ChatResponse
	errAt    map[int]error
	requests []*providers.ChatRequest
}

func (m *scriptedModel) Invoke(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	if err, ok := m.errAt[idx]; ok {
		return nil, err
	}
	if len(m.script) == 0 {
		return &providers.ChatResponse{Text: "ok"}, nil
	}
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx], nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type scriptedTool struct {
	name    string
	execute func(ctx context.Context, args map[string]interface{}) *tools.Result
	calls   atomic.Int32
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "test tool " + t.name }
func (t *scriptedTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *scriptedTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	t.calls.Add(1)
	if t.execute != nil {
		return t.execute(ctx, args)
	}
	return tools.NewResult("ok")
}

func reportCall(report string) providers.ToolCall {
	return providers.ToolCall{
		ID:        "call-report",
		Name:      tools.ReportOutName,
		Arguments: map[string]interface{}{"report": report},
	}
}

func newTestContext(t *testing.T, agentic bool, maxIterations int) *ExecutionContext {
	t.Helper()
	reg := NewRegistry(nil, nil, "gpt-4o", 50)
	ec, err := reg.InitializeAgent(testProfile("tester"), InitOpts{
		IsAgenticLoop: agentic,
		MaxIterations: maxIterations,
	})
	if err != nil {
		t.Fatalf("InitializeAgent: %v", err)
	}
	return ec
}

func TestRunCapturesReport(t *testing.T) {
	model := &scriptedModel{script: []*providers.ChatResponse{
		{Text: "Tests written.", ToolCalls: []providers.ToolCall{reportCall("Coverage 95%")}},
	}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 0)

	res, err := runner.Run(context.Background(), ec, "write unit tests")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalReport != "Coverage 95%" {
		t.Errorf("report = %q, want Coverage 95%%", res.FinalReport)
	}
	if !res.ReportedOut || !res.Completed {
		t.Errorf("reported_out=%v completed=%v", res.ReportedOut, res.Completed)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if len(res.Invocations) != 1 || res.Invocations[0].ToolName != tools.ReportOutName {
		t.Errorf("ledger = %+v", res.Invocations)
	}
	if len(res.Conversation) != 3 {
		t.Errorf("conversation len = %d, want 3 (system, user, assistant)", len(res.Conversation))
	}

	// Delegated loop with no targets and no externals offers only report_out.
	if len(model.requests) != 1 || len(model.requests[0].Tools) != 1 {
		t.Fatalf("tool defs = %+v", model.requests[0].Tools)
	}
	if model.requests[0].Tools[0].Function.Name != tools.ReportOutName {
		t.Errorf("offered tool = %q", model.requests[0].Tools[0].Function.Name)
	}
}

func TestRunEmptyReportFallsBackToModelText(t *testing.T) {
	model := &scriptedModel{script: []*providers.ChatResponse{
		{Text: "All tasks finished successfully.", ToolCalls: []providers.ToolCall{reportCall("")}},
	}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 0)

	res, err := runner.Run(context.Background(), ec, "do the thing")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalReport != "All tasks finished successfully." {
		t.Errorf("report = %q, want the model text", res.FinalReport)
	}
	if !res.ReportedOut {
		t.Error("an explicit report_out call must set ReportedOut even with an empty argument")
	}
}

func TestRunExecutesToolsInOrder(t *testing.T) {
	search := &scriptedTool{name: "search", execute: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		return tools.NewResult("three hits")
	}}
	reg := tools.NewRegistry()
	reg.Register(search)

	model := &scriptedModel{script: []*providers.ChatResponse{
		{Text: "Let me search.", ToolCalls: []providers.ToolCall{
			{ID: "1", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
		}},
		{Text: "Done.", ToolCalls: []providers.ToolCall{reportCall("found 3")}},
	}}
	runner := NewRunner(RunnerConfig{Model: model, Tools: reg})
	ec := newTestContext(t, true, 0)

	res, err := runner.Run(context.Background(), ec, "research go")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if res.FinalReport != "found 3" {
		t.Errorf("report = %q", res.FinalReport)
	}
	if len(res.Invocations) != 2 {
		t.Fatalf("ledger = %+v", res.Invocations)
	}
	if res.Invocations[0].ToolName != "search" || res.Invocations[1].ToolName != tools.ReportOutName {
		t.Errorf("ledger order: %q then %q", res.Invocations[0].ToolName, res.Invocations[1].ToolName)
	}
	if res.Invocations[0].Result != "three hits" || res.Invocations[0].IsError {
		t.Errorf("ledger entry = %+v", res.Invocations[0])
	}

	// The second model call must see the tagged tool result.
	second := model.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "[Tool result: search]") {
		t.Errorf("second request last message = %+v", last)
	}
	if !strings.Contains(last.Content, "three hits") {
		t.Errorf("tool output missing from conversation: %q", last.Content)
	}
}

func TestRunToolFailureIsNotFatal(t *testing.T) {
	flaky := &scriptedTool{name: "search", execute: func(ctx context.Context, args map[string]interface{}) *tools.Result {
		return tools.ErrorResult("boom: bad query")
	}}
	reg := tools.NewRegistry()
	reg.Register(flaky)

	model := &scriptedModel{script: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "search", Arguments: map[string]interface{}{}}}},
		{Text: "Giving up on search.", ToolCalls: []providers.ToolCall{reportCall("no results")}},
	}}
	runner := NewRunner(RunnerConfig{Model: model, Tools: reg})
	ec := newTestContext(t, true, 0)

	res, err := runner.Run(context.Background(), ec, "research")
	if err != nil {
		t.Fatalf("tool failures must never fail the run: %v", err)
	}
	if res.FinalReport != "no results" {
		t.Errorf("report = %q", res.FinalReport)
	}

	var sawFailure bool
	for _, m := range res.Conversation {
		if m.Role == "user" && strings.Contains(m.Content, "[Tool error: search]") {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("tool failure message missing from conversation")
	}
	if !res.Invocations[0].IsError {
		t.Error("ledger entry should record the failure")
	}
}

func TestRunUnknownToolGetsNotFoundFeedback(t *testing.T) {
	model := &scriptedModel{script: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "missing", Arguments: map[string]interface{}{}}}},
		{ToolCalls: []providers.ToolCall{reportCall("done")}},
	}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 0)

	res, err := runner.Run(context.Background(), ec, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var sawNotFound bool
	for _, m := range res.Conversation {
		if strings.Contains(m.Content, "tool not found: missing") {
			sawNotFound = true
		}
	}
	if !sawNotFound {
		t.Error("unknown tool should feed a not-found failure back to the model")
	}
}

func TestRunReportStopsRemainingCalls(t *testing.T) {
	never := &scriptedTool{name: "never"}
	search := &scriptedTool{name: "search"}
	reg := tools.NewRegistry()
	reg.Register(never)
	reg.Register(search)

	model := &scriptedModel{script: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{
			{ID: "1", Name: "search", Arguments: map[string]interface{}{}},
			reportCall("early report"),
			{ID: "3", Name: "never", Arguments: map[string]interface{}{}},
		}},
	}}
	runner := NewRunner(RunnerConfig{Model: model, Tools: reg})
	ec := newTestContext(t, true, 0)

	res, err := runner.Run(context.Background(), ec, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalReport != "early report" {
		t.Errorf("report = %q", res.FinalReport)
	}
	if search.calls.Load() != 1 {
		t.Errorf("search calls = %d, want 1", search.calls.Load())
	}
	if never.calls.Load() != 0 {
		t.Error("calls after report_out must not execute")
	}
	if len(res.Invocations) != 2 {
		t.Errorf("ledger = %+v", res.Invocations)
	}
}

func TestRunExhaustionSynthesizesFallback(t *testing.T) {
	model := &scriptedModel{script: []*providers.ChatResponse{
		{Text: "still thinking..."},
	}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 3)

	res, err := runner.Run(context.Background(), ec, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if !strings.Contains(res.FinalReport, "3 iterations without explicit report") {
		t.Errorf("fallback report = %q", res.FinalReport)
	}
	if res.ReportedOut {
		t.Error("fallback completion must keep ReportedOut false")
	}
	if model.callCount() != 3 {
		t.Errorf("model calls = %d, want 3", model.callCount())
	}

	var nudges int
	for _, m := range res.Conversation {
		if m.Content == reportNudge {
			nudges++
		}
	}
	if nudges != 3 {
		t.Errorf("nudges = %d, want one per iteration", nudges)
	}
}

func TestRunFreeRunningCompletesOnPlainText(t *testing.T) {
	model := &scriptedModel{script: []*providers.ChatResponse{
		{Text: "Here's your answer."},
	}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, false, 0)

	res, err := runner.Run(context.Background(), ec, "question")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if res.FinalReport != "Here's your answer." {
		t.Errorf("result = %q", res.FinalReport)
	}
	if res.ReportedOut {
		t.Error("free-running completion is not a report-out")
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	model := &scriptedModel{}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.Run(ctx, ec, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", res.Iterations)
	}
	if !res.Completed {
		t.Error("cancelled run should still complete its state")
	}
	if model.callCount() != 0 {
		t.Error("model must not be invoked after cancellation")
	}
	if res.FinalReport != "task" {
		t.Errorf("effective result should be the last conversation message, got %q", res.FinalReport)
	}
}

func TestRunModelFailureIsFatal(t *testing.T) {
	model := &scriptedModel{errAt: map[int]error{0: errors.New("503 from upstream")}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 0)

	_, err := runner.Run(context.Background(), ec, "task")
	var execErr *AgentExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want AgentExecutionError", err)
	}
	if execErr.Agent != "tester" || execErr.Iteration != 1 {
		t.Errorf("agent=%q iteration=%d", execErr.Agent, execErr.Iteration)
	}
	if !strings.Contains(execErr.Error(), "503") {
		t.Errorf("cause lost: %v", execErr)
	}
}

func TestResumeRunsRevisionRound(t *testing.T) {
	model := &scriptedModel{script: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{reportCall("first draft")}},
		{ToolCalls: []providers.ToolCall{reportCall("revised with sources")}},
	}}
	runner := NewRunner(RunnerConfig{Model: model})
	ec := newTestContext(t, true, 0)

	first, err := runner.Run(context.Background(), ec, "write a summary")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.FinalReport != "first draft" {
		t.Fatalf("first report = %q", first.FinalReport)
	}

	second, err := runner.Resume(context.Background(), ec, "Quality gate rejected the report: cite your sources.")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if second.FinalReport != "revised with sources" {
		t.Errorf("revised report = %q", second.FinalReport)
	}

	var sawFeedback bool
	for _, m := range second.Conversation {
		if m.Role == "user" && strings.Contains(m.Content, "cite your sources") {
			sawFeedback = true
		}
	}
	if !sawFeedback {
		t.Error("revision feedback missing from conversation")
	}
}

func TestResumeBeforeRunFails(t *testing.T) {
	runner := NewRunner(RunnerConfig{Model: &scriptedModel{}})
	ec := newTestContext(t, true, 0)
	var cfgErr *ConfigurationError
	if _, err := runner.Resume(context.Background(), ec, "feedback"); !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}
