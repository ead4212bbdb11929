package tools

import (
	"context"
	"errors"
	"testing"
)

var errContra = errors.New("circular delegation: coordinator is already in the chain")

func TestReportToolCapturesOnce(t *testing.T) {
	sink := &ReportSink{}
	ctx := WithReportSink(context.Background(), sink)
	tool := NewReportTool()

	result := tool.Execute(ctx, map[string]interface{}{"report": "Coverage 95%"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}

	report, ok := sink.Report()
	if !ok || report != "Coverage 95%" {
		t.Errorf("sink = (%q, %v), want captured report", report, ok)
	}

	// Second submission does not overwrite.
	tool.Execute(ctx, map[string]interface{}{"report": "something else"})
	report, _ = sink.Report()
	if report != "Coverage 95%" {
		t.Errorf("report = %q, want first capture preserved", report)
	}
}

func TestReportToolWithoutSink(t *testing.T) {
	result := NewReportTool().Execute(context.Background(), map[string]interface{}{"report": "x"})
	if !result.IsError {
		t.Error("expected error result when no run is active")
	}
}

type scriptedDelegator struct {
	lastReq DelegateRequest
	outcome *DelegateOutcome
	err     error
}

func (d *scriptedDelegator) Delegate(_ context.Context, req DelegateRequest) (*DelegateOutcome, error) {
	d.lastReq = req
	return d.outcome, d.err
}

func TestDelegateToolReturnsReport(t *testing.T) {
	delegator := &scriptedDelegator{outcome: &DelegateOutcome{
		DelegationID: "abc123",
		TargetAgent:  "researcher",
		Report:       "Three prior systems found, sources attached.",
	}}
	tool := NewDelegateTool(delegator)

	result := tool.Execute(context.Background(), map[string]interface{}{
		"targetAgent":  "researcher",
		"task":         "find prior art",
		"expectations": "bullet list with sources",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if delegator.lastReq.TargetAgent != "researcher" || delegator.lastReq.Task != "find prior art" {
		t.Errorf("request = %+v", delegator.lastReq)
	}
	if delegator.lastReq.Expectations != "bullet list with sources" {
		t.Errorf("expectations = %q", delegator.lastReq.Expectations)
	}
	want := "Report from researcher (delegation abc123):\nThree prior systems found, sources attached."
	if result.ForLLM != want {
		t.Errorf("ForLLM = %q, want %q", result.ForLLM, want)
	}
}

func TestDelegateToolValidation(t *testing.T) {
	tool := NewDelegateTool(&scriptedDelegator{})

	if result := tool.Execute(context.Background(), map[string]interface{}{"task": "x"}); !result.IsError {
		t.Error("missing targetAgent accepted")
	}
	if result := tool.Execute(context.Background(), map[string]interface{}{"targetAgent": "a"}); !result.IsError {
		t.Error("missing task accepted")
	}
}

func TestDelegateToolSurfacesEngineRejection(t *testing.T) {
	delegator := &scriptedDelegator{err: errContra}
	tool := NewDelegateTool(delegator)

	result := tool.Execute(context.Background(), map[string]interface{}{
		"targetAgent": "coordinator",
		"task":        "loop back",
	})
	if !result.IsError {
		t.Fatal("expected error feedback")
	}
	if result.ForLLM != errContra.Error() {
		t.Errorf("ForLLM = %q, want engine error text", result.ForLLM)
	}
}
