// Package providers implements the model backend used by agentic loops.
package providers

import "context"

// Message is one wire-format chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	// Arguments is the parsed JSON object; nil when RawArguments did not
	// parse, in which case the dispatcher reports the failure to the model.
	Arguments    map[string]interface{}
	RawArguments string
}

// Usage reports token consumption of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// ChatRequest is one blocking completion request.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
}

// ChatResponse is the model's reply: assistant text plus zero or more
// tool calls, in the order the model emitted them.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	Usage        Usage
}

// Client is the model collaborator. Implementations must honor ctx
// cancellation and return an error for any non-success outcome; the loop
// treats those as fatal.
type Client interface {
	Invoke(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ToolDefinition is the OpenAI-style function declaration sent with a request.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema describes one callable function.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}
