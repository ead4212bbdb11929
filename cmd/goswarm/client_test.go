package main

import (
	"testing"

	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

func TestDialableAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{":8787", "127.0.0.1:8787"},
		{"0.0.0.0:8787", "127.0.0.1:8787"},
		{"[::]:8787", "127.0.0.1:8787"},
		{"10.0.0.5:8787", "10.0.0.5:8787"},
		{"localhost:8787", "localhost:8787"},
		{"nonsense", "nonsense"},
	}
	for _, tt := range tests {
		if got := dialableAddr(tt.in); got != tt.want {
			t.Errorf("dialableAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeResult(t *testing.T) {
	resp := &protocol.ResponseFrame{
		OK: true,
		Result: map[string]interface{}{
			"count": 3,
			"jobs":  []string{"a", "b"},
		},
	}

	var out struct {
		Count int      `json:"count"`
		Jobs  []string `json:"jobs"`
	}
	if err := decodeResult(resp, &out); err != nil {
		t.Fatalf("decodeResult: %v", err)
	}
	if out.Count != 3 {
		t.Errorf("count = %d, want 3", out.Count)
	}
	if len(out.Jobs) != 2 || out.Jobs[0] != "a" {
		t.Errorf("jobs = %v", out.Jobs)
	}
}

func TestRPCError(t *testing.T) {
	withInfo := &protocol.ResponseFrame{
		Error: &protocol.ErrorInfo{Code: protocol.ErrNotFound, Message: "delegation not found"},
	}
	if got := rpcError(withInfo).Error(); got != "not_found: delegation not found" {
		t.Errorf("rpcError = %q", got)
	}

	bare := &protocol.ResponseFrame{}
	if rpcError(bare) == nil {
		t.Error("expected an error for a response without error info")
	}
}

func TestBuildScheduleSpec(t *testing.T) {
	if _, err := buildScheduleSpec("", "", "", ""); err == nil {
		t.Error("expected error when no trigger flag is set")
	}
	if _, err := buildScheduleSpec("0 9 * * *", "30m", "", ""); err == nil {
		t.Error("expected error when two trigger flags are set")
	}

	spec, err := buildScheduleSpec("0 9 * * 1-5", "", "", "Europe/Berlin")
	if err != nil {
		t.Fatalf("cron spec: %v", err)
	}
	if spec.Kind != "cron" || spec.Expr != "0 9 * * 1-5" || spec.TZ != "Europe/Berlin" {
		t.Errorf("cron spec = %+v", spec)
	}

	spec, err = buildScheduleSpec("", "90m", "", "")
	if err != nil {
		t.Fatalf("every spec: %v", err)
	}
	if spec.Kind != "every" || spec.EveryMS == nil || *spec.EveryMS != 90*60*1000 {
		t.Errorf("every spec = %+v", spec)
	}

	spec, err = buildScheduleSpec("", "", "2026-09-01T09:00:00Z", "")
	if err != nil {
		t.Fatalf("at spec: %v", err)
	}
	if spec.Kind != "at" || spec.AtMS == nil {
		t.Errorf("at spec = %+v", spec)
	}

	if _, err := buildScheduleSpec("", "not-a-duration", "", ""); err == nil {
		t.Error("expected parse error for bad --every value")
	}
}
