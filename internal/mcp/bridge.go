// Package mcp bridges tools exported by Model Context Protocol servers
// into the local tool registry. Each configured server runs as a
// subprocess speaking MCP over stdio; its tools are registered under
// "server__tool" names so agent loops can call them like built-ins.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// toolCaller is the slice of the MCP client a bridged tool needs at
// call time. Narrowed to an interface so execution paths are testable
// without spawning a subprocess.
type toolCaller interface {
	CallTool(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
}

// BridgedTool exposes one remote MCP tool through the tools.Tool
// interface. The registry sees the prefixed name; the wire call uses
// the server's original tool name.
type BridgedTool struct {
	serverName  string
	remoteName  string
	registered  string
	description string
	schema      map[string]interface{}
	caller      toolCaller
	timeout     time.Duration
	connected   *atomic.Bool
}

func newBridgedTool(serverName string, def mcpgo.Tool, caller toolCaller, timeout time.Duration, connected *atomic.Bool) *BridgedTool {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &BridgedTool{
		serverName:  serverName,
		remoteName:  def.Name,
		registered:  serverName + "__" + def.Name,
		description: def.Description,
		schema:      schemaToMap(def.InputSchema),
		caller:      caller,
		timeout:     timeout,
		connected:   connected,
	}
}

func (t *BridgedTool) Name() string                       { return t.registered }
func (t *BridgedTool) Description() string                { return t.description }
func (t *BridgedTool) Parameters() map[string]interface{} { return t.schema }

// ServerName reports which configured server the tool came from.
func (t *BridgedTool) ServerName() string { return t.serverName }

// RemoteName reports the tool's name on the server, without the prefix.
func (t *BridgedTool) RemoteName() string { return t.remoteName }

func (t *BridgedTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !t.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %q is disconnected", t.serverName))
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	res, err := t.caller.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return tools.ErrorResult(fmt.Sprintf("MCP tool %q timed out after %s", t.registered, t.timeout))
		}
		return tools.ErrorResult(fmt.Sprintf("MCP tool %q failed: %v", t.registered, err))
	}

	text := textContent(res)
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// schemaToMap flattens the MCP input schema into the plain JSON Schema
// map the registry hands to providers.
func schemaToMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	m := map[string]interface{}{
		"type": schema.Type,
	}
	if schema.Type == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	if schema.AdditionalProperties != nil {
		m["additionalProperties"] = schema.AdditionalProperties
	}
	return m
}

// textContent joins the text parts of a tool result. Non-text parts
// (images, audio) are noted rather than silently dropped.
func textContent(res *mcpgo.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("[non-text content: %T]", c))
		}
	}
	return strings.Join(parts, "\n")
}
