package methods

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// TracesMethods handles traces.list and traces.get.
type TracesMethods struct {
	traces store.TracingStore
}

func NewTracesMethods(traces store.TracingStore) *TracesMethods {
	return &TracesMethods{traces: traces}
}

func (m *TracesMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodTracesList, m.handleList)
	router.Register(protocol.MethodTracesGet, m.handleGet)
}

type tracesListParams struct {
	Agent          string `json:"agent"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

func (m *TracesMethods) handleList(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.traces == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "tracing store not available"))
		return
	}
	var params tracesListParams
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}

	if params.Limit <= 0 {
		params.Limit = 20
	}

	opts := store.TraceListOpts{
		AgentName:      params.Agent,
		ConversationID: params.ConversationID,
		Status:         params.Status,
		Limit:          params.Limit,
		Offset:         params.Offset,
	}
	traces, err := m.traces.ListTraces(ctx, opts)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	total, err := m.traces.CountTraces(ctx, opts)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"traces": traces,
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	}))
}

func (m *TracesMethods) handleGet(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.traces == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "tracing store not available"))
		return
	}
	var params struct {
		TraceID string `json:"trace_id"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.TraceID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "trace_id is required"))
		return
	}

	traceID, err := uuid.Parse(params.TraceID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid trace_id"))
		return
	}

	trace, err := m.traces.GetTrace(ctx, traceID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	if trace == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "trace not found"))
		return
	}
	spans, err := m.traces.GetTraceSpans(ctx, traceID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"trace": trace,
		"spans": spans,
	}))
}
