package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/goswarm/internal/gateway"
	"github.com/nextlevelbuilder/goswarm/internal/schedule"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// ScheduleMethods handles schedule.* RPC methods over the job service.
type ScheduleMethods struct {
	service *schedule.Service
}

func NewScheduleMethods(service *schedule.Service) *ScheduleMethods {
	return &ScheduleMethods{service: service}
}

func (m *ScheduleMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodScheduleList, m.handleList)
	router.Register(protocol.MethodScheduleAdd, m.handleAdd)
	router.Register(protocol.MethodScheduleUpdate, m.handleUpdate)
	router.Register(protocol.MethodScheduleRemove, m.handleRemove)
	router.Register(protocol.MethodScheduleToggle, m.handleToggle)
	router.Register(protocol.MethodScheduleRun, m.handleRun)
	router.Register(protocol.MethodScheduleRuns, m.handleRuns)
	router.Register(protocol.MethodScheduleStatus, m.handleStatus)
}

func (m *ScheduleMethods) unavailable(client *gateway.Client, reqID string) bool {
	if m.service != nil {
		return false
	}
	client.SendResponse(protocol.NewErrorResponse(reqID, protocol.ErrInternal, "scheduler not available"))
	return true
}

func (m *ScheduleMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		IncludeDisabled bool `json:"include_disabled"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}

	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"jobs":   m.service.ListJobs(params.IncludeDisabled),
		"status": m.service.Status(),
	}))
}

func (m *ScheduleMethods) handleAdd(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		Name     string            `json:"name"`
		Schedule schedule.Schedule `json:"schedule"`
		Dispatch schedule.Dispatch `json:"dispatch"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.Name == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "name is required"))
		return
	}

	job, err := m.service.AddJob(params.Name, params.Schedule, params.Dispatch)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"job": job,
	}))
}

func (m *ScheduleMethods) handleUpdate(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		JobID string            `json:"job_id"`
		Patch schedule.JobPatch `json:"patch"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.JobID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "job_id is required"))
		return
	}

	job, err := m.service.UpdateJob(params.JobID, params.Patch)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"job": job,
	}))
}

func (m *ScheduleMethods) handleRemove(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		JobID string `json:"job_id"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.JobID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "job_id is required"))
		return
	}

	if err := m.service.RemoveJob(params.JobID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"removed": true,
	}))
}

func (m *ScheduleMethods) handleToggle(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		JobID   string `json:"job_id"`
		Enabled bool   `json:"enabled"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.JobID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "job_id is required"))
		return
	}

	if err := m.service.EnableJob(params.JobID, params.Enabled); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"job_id":  params.JobID,
		"enabled": params.Enabled,
	}))
}

func (m *ScheduleMethods) handleRun(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		JobID string `json:"job_id"`
		Force bool   `json:"force"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	if params.JobID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "job_id is required"))
		return
	}

	ran, result, err := m.service.RunJob(ctx, params.JobID, params.Force)
	if err != nil && !ran {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
		return
	}

	resp := map[string]interface{}{
		"ran": ran,
	}
	if err != nil {
		resp["error"] = err.Error()
	} else if ran {
		resp["result"] = result
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, resp))
}

func (m *ScheduleMethods) handleRuns(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	var params struct {
		JobID string `json:"job_id"`
		Limit int    `json:"limit"`
	}
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}

	entries := m.service.RunLog(params.JobID, params.Limit)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}))
}

func (m *ScheduleMethods) handleStatus(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if m.unavailable(client, req.ID) {
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, m.service.Status()))
}
