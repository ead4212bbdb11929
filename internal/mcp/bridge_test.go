package mcp

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

type stubCaller struct {
	res    *mcpgo.CallToolResult
	err    error
	called bool
	got    mcpgo.CallToolRequest
}

func (s *stubCaller) CallTool(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	s.called = true
	s.got = req
	return s.res, s.err
}

// slowCaller never answers before the call context expires.
type slowCaller struct{}

func (slowCaller) CallTool(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func connectedFlag(v bool) *atomic.Bool {
	var b atomic.Bool
	b.Store(v)
	return &b
}

func textResult(texts ...string) *mcpgo.CallToolResult {
	res := &mcpgo.CallToolResult{}
	for _, txt := range texts {
		res.Content = append(res.Content, mcpgo.TextContent{Type: "text", Text: txt})
	}
	return res
}

func TestBridgedToolNaming(t *testing.T) {
	def := mcpgo.Tool{
		Name:        "query",
		Description: "Run a query",
		InputSchema: mcpgo.ToolInputSchema{Type: "object"},
	}

	bt := newBridgedTool("pg", def, nil, 30*time.Second, nil)
	if bt.Name() != "pg__query" {
		t.Errorf("Name() = %q, want pg__query", bt.Name())
	}
	if bt.RemoteName() != "query" {
		t.Errorf("RemoteName() = %q, want query", bt.RemoteName())
	}
	if bt.ServerName() != "pg" {
		t.Errorf("ServerName() = %q, want pg", bt.ServerName())
	}
	if bt.Description() != "Run a query" {
		t.Errorf("Description() = %q", bt.Description())
	}
}

func TestBridgedToolDefaultTimeout(t *testing.T) {
	bt := newBridgedTool("s", mcpgo.Tool{Name: "x"}, nil, 0, nil)
	if bt.timeout != defaultCallTimeout {
		t.Errorf("timeout = %s, want %s", bt.timeout, defaultCallTimeout)
	}
}

func TestExecuteCallsRemoteName(t *testing.T) {
	caller := &stubCaller{res: textResult("42 rows")}
	def := mcpgo.Tool{Name: "query", InputSchema: mcpgo.ToolInputSchema{Type: "object"}}
	bt := newBridgedTool("pg", def, caller, time.Second, connectedFlag(true))

	res := bt.Execute(context.Background(), map[string]interface{}{"sql": "select 1"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.ForLLM)
	}
	if res.ForLLM != "42 rows" {
		t.Errorf("ForLLM = %q, want %q", res.ForLLM, "42 rows")
	}
	if caller.got.Params.Name != "query" {
		t.Errorf("wire call used name %q, want the unprefixed query", caller.got.Params.Name)
	}
}

func TestExecuteDisconnected(t *testing.T) {
	caller := &stubCaller{res: textResult("should not run")}
	bt := newBridgedTool("pg", mcpgo.Tool{Name: "query"}, caller, time.Second, connectedFlag(false))

	res := bt.Execute(context.Background(), nil)
	if !res.IsError {
		t.Fatal("expected error result for disconnected server")
	}
	if !strings.Contains(res.ForLLM, "disconnected") {
		t.Errorf("ForLLM = %q, want mention of disconnected", res.ForLLM)
	}
	if caller.called {
		t.Error("caller was invoked despite disconnected flag")
	}
}

func TestExecuteRemoteError(t *testing.T) {
	caller := &stubCaller{err: errors.New("pipe closed")}
	bt := newBridgedTool("pg", mcpgo.Tool{Name: "query"}, caller, time.Second, connectedFlag(true))

	res := bt.Execute(context.Background(), nil)
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(res.ForLLM, "pg__query") || !strings.Contains(res.ForLLM, "pipe closed") {
		t.Errorf("ForLLM = %q, want tool name and cause", res.ForLLM)
	}
}

func TestExecuteToolReportedError(t *testing.T) {
	res := textResult("table does not exist")
	res.IsError = true
	caller := &stubCaller{res: res}
	bt := newBridgedTool("pg", mcpgo.Tool{Name: "query"}, caller, time.Second, connectedFlag(true))

	got := bt.Execute(context.Background(), nil)
	if !got.IsError {
		t.Fatal("expected error result when the server flags IsError")
	}
	if got.ForLLM != "table does not exist" {
		t.Errorf("ForLLM = %q", got.ForLLM)
	}
}

func TestExecuteTimeout(t *testing.T) {
	bt := newBridgedTool("slow", mcpgo.Tool{Name: "sleep"}, slowCaller{}, 10*time.Millisecond, connectedFlag(true))

	res := bt.Execute(context.Background(), nil)
	if !res.IsError {
		t.Fatal("expected error result on timeout")
	}
	if !strings.Contains(res.ForLLM, "timed out") {
		t.Errorf("ForLLM = %q, want timeout message", res.ForLLM)
	}
}

func TestSchemaToMap(t *testing.T) {
	schema := mcpgo.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
		},
		Required: []string{"query"},
	}

	m := schemaToMap(schema)

	if m["type"] != "object" {
		t.Errorf("type = %v, want object", m["type"])
	}
	props, ok := m["properties"].(map[string]any)
	if !ok || props == nil {
		t.Fatal("expected properties map")
	}
	if _, ok := props["query"]; !ok {
		t.Error("expected 'query' in properties")
	}
	req, ok := m["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "query" {
		t.Errorf("required = %v, want [query]", m["required"])
	}
}

func TestSchemaToMapEmptyType(t *testing.T) {
	m := schemaToMap(mcpgo.ToolInputSchema{})
	if m["type"] != "object" {
		t.Errorf("type = %v, want default object", m["type"])
	}
	if _, ok := m["properties"]; ok {
		t.Error("empty schema should not emit properties")
	}
}

func TestTextContent(t *testing.T) {
	got := textContent(textResult("hello", "world"))
	if got != "hello\nworld" {
		t.Errorf("textContent = %q, want %q", got, "hello\nworld")
	}

	if got := textContent(nil); got != "" {
		t.Errorf("textContent(nil) = %q, want empty", got)
	}
	if got := textContent(&mcpgo.CallToolResult{}); got != "" {
		t.Errorf("textContent(empty) = %q, want empty", got)
	}
}
