package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// UsageMethods handles usage.summary. Token counts come from trace
// aggregates, which the collector keeps current as spans flush.
type UsageMethods struct {
	traces store.TracingStore
}

func NewUsageMethods(traces store.TracingStore) *UsageMethods {
	return &UsageMethods{traces: traces}
}

func (m *UsageMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodUsageSummary, m.handleSummary)
}

func (m *UsageMethods) handleSummary(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.traces == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "tracing store not available"))
		return
	}
	var params struct {
		Agent string `json:"agent"`
		Limit int    `json:"limit"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.Limit <= 0 {
		params.Limit = 500
	}

	traces, err := m.traces.ListTraces(ctx, store.TraceListOpts{
		AgentName: params.Agent,
		Limit:     params.Limit,
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	type agentUsage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
		LLMCalls     int `json:"llm_calls"`
		ToolCalls    int `json:"tool_calls"`
		Traces       int `json:"traces"`
	}

	byAgent := make(map[string]*agentUsage)
	totals := agentUsage{}

	for _, tr := range traces {
		u := byAgent[tr.AgentName]
		if u == nil {
			u = &agentUsage{}
			byAgent[tr.AgentName] = u
		}
		u.InputTokens += tr.TotalInputTokens
		u.OutputTokens += tr.TotalOutputTokens
		u.TotalTokens += tr.TotalInputTokens + tr.TotalOutputTokens
		u.LLMCalls += tr.LLMCallCount
		u.ToolCalls += tr.ToolCallCount
		u.Traces++

		totals.InputTokens += tr.TotalInputTokens
		totals.OutputTokens += tr.TotalOutputTokens
		totals.TotalTokens += tr.TotalInputTokens + tr.TotalOutputTokens
		totals.LLMCalls += tr.LLMCallCount
		totals.ToolCalls += tr.ToolCallCount
		totals.Traces++
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"by_agent":       byAgent,
		"totals":         totals,
		"traces_scanned": len(traces),
	}))
}
