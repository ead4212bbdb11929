package mcp

import (
	"context"
	"reflect"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

type staticTool struct{ name string }

func (s staticTool) Name() string        { return s.name }
func (s staticTool) Description() string { return "static" }
func (s staticTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s staticTool) Execute(context.Context, map[string]interface{}) *tools.Result {
	return tools.NewResult("ok")
}

func TestFlattenEnv(t *testing.T) {
	if got := flattenEnv(nil); got != nil {
		t.Errorf("flattenEnv(nil) = %v, want nil", got)
	}

	got := flattenEnv(map[string]string{"B": "2", "A": "1"})
	want := []string{"A=1", "B=2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("flattenEnv = %v, want %v", got, want)
	}
}

func TestStartSkipsUnparseableCommand(t *testing.T) {
	m := NewManager(tools.NewRegistry())
	m.Start(context.Background(), []config.MCPServerConfig{
		{Name: "broken", Command: "'unterminated"},
	})

	if got := m.Status(); len(got) != 0 {
		t.Errorf("expected no servers, got %v", got)
	}
}

func TestConnectRejectsEmptyCommand(t *testing.T) {
	m := NewManager(tools.NewRegistry())
	if _, err := m.connect(context.Background(), config.MCPServerConfig{Name: "x", Command: "   "}); err == nil {
		t.Fatal("expected error for blank command")
	}
}

func TestCloseUnregistersAndDisconnects(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(staticTool{name: "fake__echo"})
	reg.Register(staticTool{name: "keep_me"})

	m := NewManager(reg)
	srv := &Server{name: "fake", tools: []string{"fake__echo"}}
	srv.connected.Store(true)
	m.servers = append(m.servers, srv)

	m.Close()

	if _, ok := reg.Get("fake__echo"); ok {
		t.Error("bridged tool still registered after Close")
	}
	if _, ok := reg.Get("keep_me"); !ok {
		t.Error("unrelated tool removed by Close")
	}
	if srv.connected.Load() {
		t.Error("server still flagged connected after Close")
	}
	if got := m.Status(); len(got) != 0 {
		t.Errorf("Status after Close = %v, want empty", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(tools.NewRegistry())
	m.Close()
	m.Close()
}

func TestStatusCopiesToolNames(t *testing.T) {
	m := NewManager(tools.NewRegistry())
	srv := &Server{name: "pg", tools: []string{"pg__query", "pg__list_tables"}}
	srv.connected.Store(true)
	m.servers = append(m.servers, srv)

	st := m.Status()
	if len(st) != 1 {
		t.Fatalf("Status len = %d, want 1", len(st))
	}
	if st[0].Name != "pg" || !st[0].Connected {
		t.Errorf("status = %+v", st[0])
	}
	if len(st[0].Tools) != 2 {
		t.Fatalf("tools = %v", st[0].Tools)
	}

	st[0].Tools[0] = "mutated"
	if srv.tools[0] != "pg__query" {
		t.Error("Status leaked the internal tool slice")
	}
}
