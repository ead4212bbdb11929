// Package protocol defines the gateway wire surface: frame shapes,
// method names, error codes, and the event names pushed to observers.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is echoed in the connect response so clients can
// detect incompatible servers.
const ProtocolVersion = 1

// Frame types. Every frame on the wire carries one in its "type" field.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC method names.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	MethodAgentsList = "agents.list"
	MethodAgentsGet  = "agents.get"

	MethodDelegationsDispatch = "delegations.dispatch"
	MethodDelegationsActive   = "delegations.active"
	MethodDelegationsList     = "delegations.list"
	MethodDelegationsGet      = "delegations.get"

	MethodTracesList = "traces.list"
	MethodTracesGet  = "traces.get"

	MethodUsageSummary = "usage.summary"

	MethodScheduleList   = "schedule.list"
	MethodScheduleAdd    = "schedule.add"
	MethodScheduleUpdate = "schedule.update"
	MethodScheduleRemove = "schedule.remove"
	MethodScheduleToggle = "schedule.toggle"
	MethodScheduleRun    = "schedule.run"
	MethodScheduleRuns   = "schedule.runs"
	MethodScheduleStatus = "schedule.status"
)

// Error codes carried on failed responses.
const (
	ErrInvalidRequest = "invalid_request"
	ErrUnauthorized   = "unauthorized"
	ErrNotFound       = "not_found"
	ErrRateLimited    = "rate_limited"
	ErrInternal       = "internal_error"
)

// RequestFrame is a client RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers one request, matched by ID.
type ResponseFrame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id,omitempty"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo describes why a request failed.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is a server push carrying one bus event.
type EventFrame struct {
	Type    string                 `json:"type"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	At      time.Time              `json:"at"`
}

// ParseFrameType peeks at a raw frame and returns its type field.
func ParseFrameType(data []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("malformed frame: %w", err)
	}
	if probe.Type == "" {
		return "", errors.New("frame missing type")
	}
	return probe.Type, nil
}

// NewOKResponse builds a success response for the given request id.
func NewOKResponse(id string, result interface{}) *ResponseFrame {
	return &ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse builds a failure response for the given request id.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    false,
		Error: &ErrorInfo{Code: code, Message: message},
	}
}

// NewEventFrame wraps a bus event for the wire.
func NewEventFrame(event string, payload map[string]interface{}, at time.Time) EventFrame {
	return EventFrame{Type: FrameTypeEvent, Event: event, Payload: payload, At: at}
}
