package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const openAIDefaultBase = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible chat client.
type OpenAIConfig struct {
	Name      string // provider name for logging and schema cleaning
	APIKey    string
	BaseURL   string // default "https://api.openai.com/v1"
	TimeoutMs int    // per-request timeout, default 120000
	Retry     RetryConfig
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
// Most hosted providers (OpenAI, Gemini, Anthropic gateways, local
// runtimes) speak this protocol, so one client covers them all.
type OpenAIClient struct {
	name    string
	apiKey  string
	baseURL string
	httpc   *http.Client
	retry   RetryConfig
}

// NewOpenAIClient creates a chat client, filling in defaults.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		retry:   cfg.Retry,
	}
	if c.name == "" {
		c.name = "openai"
	}
	if c.baseURL == "" {
		c.baseURL = openAIDefaultBase
	}
	if c.retry.Attempts <= 0 {
		c.retry = DefaultRetryConfig()
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c.httpc = &http.Client{Timeout: timeout}
	return c
}

func (c *OpenAIClient) Name() string { return c.name }

// Invoke sends one blocking completion request and maps the first choice
// into a ChatResponse.
func (c *OpenAIClient) Invoke(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	wire := openAIRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if len(req.Tools) > 0 {
		wire.Tools = CleanToolSchemas(c.name, req.Tools)
		wire.ToolChoice = "auto"
	}

	bodyJSON, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	slog.Debug("model invoke",
		"provider", c.name,
		"model", req.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	parsed, err := RetryDo(ctx, c.retry, func() (*openAIResponse, error) {
		return c.post(ctx, bodyJSON)
	})
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", decorateAPIError(err))
	}

	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat response from %s has no choices", c.name)
	}

	choice := parsed.Choices[0]
	resp := &ChatResponse{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        parsed.Model,
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, parseToolCall(tc))
	}
	if parsed.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
		if parsed.Usage.PromptTokensDetails != nil {
			resp.Usage.CachedTokens = parsed.Usage.PromptTokensDetails.CachedTokens
		}
	}
	return resp, nil
}

func (c *OpenAIClient) post(ctx context.Context, bodyJSON []byte) (*openAIResponse, error) {
	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &HTTPError{
			Status:     httpResp.StatusCode,
			Body:       truncateBody(string(respBody), 2000),
			RetryAfter: ParseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &parsed, nil
}

// parseToolCall converts a wire tool call, decoding the JSON arguments.
// Malformed arguments leave Arguments nil so the dispatcher can report
// the failure back to the model instead of dropping the call.
func parseToolCall(tc openAIToolCall) ToolCall {
	call := ToolCall{
		ID:           tc.ID,
		Name:         tc.Function.Name,
		RawArguments: tc.Function.Arguments,
	}
	if tc.Function.Arguments == "" {
		call.Arguments = map[string]interface{}{}
		return call
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		slog.Warn("tool call arguments not valid JSON",
			"tool", tc.Function.Name, "error", err)
		return call
	}
	call.Arguments = args
	return call
}

// decorateAPIError extracts the API error message from an HTTPError body
// so logs show "model not found" instead of a JSON blob.
func decorateAPIError(err error) error {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	var apiErr openAIError
	if jsonErr := json.Unmarshal([]byte(httpErr.Body), &apiErr); jsonErr != nil {
		return err
	}
	if apiErr.Error.Message == "" {
		return err
	}
	return fmt.Errorf("%s (status %d)", apiErr.Error.Message, httpErr.Status)
}

func truncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
