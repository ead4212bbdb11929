// Package methods registers the gateway's RPC handlers. Each group owns
// one method namespace and receives only the dependencies it queries.
package methods

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/delegation"
	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// DelegationsMethods handles delegations.* RPC methods.
type DelegationsMethods struct {
	engine  *delegation.Engine
	history store.DelegationStore
}

func NewDelegationsMethods(engine *delegation.Engine, history store.DelegationStore) *DelegationsMethods {
	return &DelegationsMethods{engine: engine, history: history}
}

func (m *DelegationsMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodDelegationsDispatch, m.handleDispatch)
	router.Register(protocol.MethodDelegationsActive, m.handleActive)
	router.Register(protocol.MethodDelegationsList, m.handleList)
	router.Register(protocol.MethodDelegationsGet, m.handleGet)
}

// handleDispatch fires a delegation and acknowledges it. Completion
// arrives on the event stream, not in this response.
func (m *DelegationsMethods) handleDispatch(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.engine == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "delegation engine not available"))
		return
	}

	var params struct {
		FromAgent     string `json:"from_agent"`
		ToAgent       string `json:"to_agent"`
		Task          string `json:"task"`
		Expectations  string `json:"expectations"`
		TimeoutMS     int64  `json:"timeout_ms"`
		MaxIterations int    `json:"max_iterations"`
		Model         string `json:"model"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.ToAgent == "" || params.Task == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "to_agent and task are required"))
		return
	}
	if params.FromAgent == "" {
		ps := m.engine.Profiles()
		if ps == nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "no agent profiles loaded"))
			return
		}
		params.FromAgent = ps.EntryAgent
	}

	opts := delegation.DelegateOpts{
		MaxIterations: params.MaxIterations,
		Model:         params.Model,
	}
	if params.TimeoutMS > 0 {
		opts.Timeout = time.Duration(params.TimeoutMS) * time.Millisecond
	}

	handle, err := m.engine.DelegateWork(ctx, params.FromAgent, params.ToAgent, params.Task, params.Expectations, opts)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"delegation_id":   handle.ID,
		"from_agent":      handle.FromAgent,
		"to_agent":        handle.ToAgent,
		"conversation_id": handle.ConversationID,
	}))
}

func (m *DelegationsMethods) handleActive(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.engine == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "delegation engine not available"))
		return
	}
	active := m.engine.ActiveDelegations()
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"delegations": active,
		"count":       len(active),
	}))
}

func (m *DelegationsMethods) handleList(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.history == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "delegation history not available"))
		return
	}

	var params struct {
		FromAgent string `json:"from_agent"`
		ToAgent   string `json:"to_agent"`
		Status    string `json:"status"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}

	records, total, err := m.history.ListDelegations(ctx, store.DelegationListOpts{
		FromAgent: params.FromAgent,
		ToAgent:   params.ToAgent,
		Status:    params.Status,
		Limit:     params.Limit,
		Offset:    params.Offset,
	})
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}

	// Results are capped for transport; the full report stays in the store.
	const maxResultRunes = 500
	for i := range records {
		truncateResult(&records[i], maxResultRunes)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"records": records,
		"total":   total,
	}))
}

func (m *DelegationsMethods) handleGet(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.history == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, "delegation history not available"))
		return
	}

	var params struct {
		ID string `json:"id"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required"))
		return
	}
	id, err := uuid.Parse(params.ID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "invalid id"))
		return
	}

	record, err := m.history.GetDelegation(ctx, id)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	if record == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "delegation not found"))
		return
	}

	const maxResultRunes = 8000
	truncateResult(record, maxResultRunes)
	client.SendResponse(protocol.NewOKResponse(req.ID, record))
}

func truncateResult(rec *store.DelegationData, maxRunes int) {
	if rec.Result == nil {
		return
	}
	r := []rune(*rec.Result)
	if len(r) > maxRunes {
		s := string(r[:maxRunes]) + "..."
		rec.Result = &s
	}
}
