package tools

import (
	"context"
	"sync"
)

// ReportSink captures the final report of one loop run. The loop installs
// a fresh sink in the dispatch context; the report_out tool writes into
// it. First capture wins.
type ReportSink struct {
	mu       sync.Mutex
	report   string
	captured bool
}

// Capture stores the report if none was captured yet. Returns false when
// a report is already present.
func (s *ReportSink) Capture(report string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured {
		return false
	}
	s.report = report
	s.captured = true
	return true
}

// Report returns the captured report, if any.
func (s *ReportSink) Report() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.captured
}

type reportSinkKey struct{}

// WithReportSink attaches a report sink to the dispatch context.
func WithReportSink(ctx context.Context, sink *ReportSink) context.Context {
	return context.WithValue(ctx, reportSinkKey{}, sink)
}

// ReportSinkFromContext returns the sink for the current run, or nil.
func ReportSinkFromContext(ctx context.Context) *ReportSink {
	sink, _ := ctx.Value(reportSinkKey{}).(*ReportSink)
	return sink
}

// ReportOutName is the registered name of the report submission tool.
const ReportOutName = "report_out"

// ReportTool lets a delegated agent submit its final report. Invoking it
// ends the agent's loop; the report text resolves the waiting delegation.
type ReportTool struct{}

func NewReportTool() *ReportTool { return &ReportTool{} }

func (t *ReportTool) Name() string { return ReportOutName }

func (t *ReportTool) Description() string {
	return "Submit your final report for the task you were delegated. " +
		"Calling this ends your run and delivers the report to the agent " +
		"that delegated the work to you. Call it exactly once, when the " +
		"task is done."
}

func (t *ReportTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"report": map[string]interface{}{
				"type":        "string",
				"description": "The complete report: results, findings, and anything the delegator asked for",
			},
		},
		"required": []string{"report"},
	}
}

func (t *ReportTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sink := ReportSinkFromContext(ctx)
	if sink == nil {
		return ErrorResult("no active run to report for")
	}

	report, _ := args["report"].(string)
	if !sink.Capture(report) {
		return NewResult("Report already recorded.")
	}
	return NewResult("Report recorded.")
}
