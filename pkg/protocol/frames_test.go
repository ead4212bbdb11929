package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseFrameType(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"request", `{"type":"req","id":"1","method":"health"}`, FrameTypeRequest, false},
		{"response", `{"type":"res","id":"1","ok":true}`, FrameTypeResponse, false},
		{"event", `{"type":"event","event":"delegation.completed"}`, FrameTypeEvent, false},
		{"unknown type passes through", `{"type":"mystery"}`, "mystery", false},
		{"missing type", `{"id":"1"}`, "", true},
		{"empty type", `{"type":""}`, "", true},
		{"malformed json", `{"type":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrameType([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFrameType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFrameType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewOKResponse(t *testing.T) {
	resp := NewOKResponse("req-7", map[string]int{"count": 3})

	if resp.Type != FrameTypeResponse {
		t.Errorf("Type = %q, want %q", resp.Type, FrameTypeResponse)
	}
	if resp.ID != "req-7" {
		t.Errorf("ID = %q, want req-7", resp.ID)
	}
	if !resp.OK {
		t.Error("OK = false, want true")
	}
	if resp.Error != nil {
		t.Errorf("Error = %+v, want nil", resp.Error)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"error"`) {
		t.Errorf("success response carries error field: %s", data)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("req-9", ErrNotFound, "no such trace")

	if resp.OK {
		t.Error("OK = true, want false")
	}
	if resp.Error == nil {
		t.Fatal("Error = nil, want set")
	}
	if resp.Error.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", resp.Error.Code, ErrNotFound)
	}
	if resp.Error.Message != "no such trace" {
		t.Errorf("Message = %q, want %q", resp.Error.Message, "no such trace")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"result"`) {
		t.Errorf("error response carries result field: %s", data)
	}
}

func TestNewEventFrame(t *testing.T) {
	at := time.Now()
	frame := NewEventFrame("delegation.completed", map[string]interface{}{
		"delegation_id": "abc",
	}, at)

	if frame.Type != FrameTypeEvent {
		t.Errorf("Type = %q, want %q", frame.Type, FrameTypeEvent)
	}
	if frame.Event != "delegation.completed" {
		t.Errorf("Event = %q, want delegation.completed", frame.Event)
	}
	if !frame.At.Equal(at) {
		t.Errorf("At = %v, want %v", frame.At, at)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ParseFrameType(data)
	if err != nil {
		t.Fatalf("ParseFrameType: %v", err)
	}
	if parsed != FrameTypeEvent {
		t.Errorf("round-trip frame type = %q, want %q", parsed, FrameTypeEvent)
	}
}

func TestRequestFrameParamsStayRaw(t *testing.T) {
	raw := `{"type":"req","id":"5","method":"schedule.add","params":{"name":"nightly"}}`

	var req RequestFrame
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Method != "schedule.add" {
		t.Errorf("Method = %q, want schedule.add", req.Method)
	}

	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("params unmarshal: %v", err)
	}
	if params.Name != "nightly" {
		t.Errorf("params.Name = %q, want nightly", params.Name)
	}
}
