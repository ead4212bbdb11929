package agent

import "testing"

func TestNewLoopState(t *testing.T) {
	s := NewLoopState(10)
	if !s.Active || s.Completed {
		t.Fatalf("initial state: active=%v completed=%v", s.Active, s.Completed)
	}
	if s.IterationCount != 0 {
		t.Errorf("iterations = %d, want 0", s.IterationCount)
	}
	if s.MaxIterations != 10 {
		t.Errorf("max = %d, want 10", s.MaxIterations)
	}
}

func TestNewLoopStateDefaultsMax(t *testing.T) {
	s := NewLoopState(0)
	if s.MaxIterations != DefaultMaxIterations {
		t.Errorf("max = %d, want %d", s.MaxIterations, DefaultMaxIterations)
	}
	s = NewLoopState(-3)
	if s.MaxIterations != DefaultMaxIterations {
		t.Errorf("max = %d, want %d", s.MaxIterations, DefaultMaxIterations)
	}
}

func TestStartIterationCounts(t *testing.T) {
	s := NewLoopState(3)
	s = s.StartIteration()
	if s.IterationCount != 1 {
		t.Errorf("iterations = %d, want 1", s.IterationCount)
	}
	s = s.StartIteration()
	if s.IterationCount != 2 {
		t.Errorf("iterations = %d, want 2", s.IterationCount)
	}
}

func TestShouldContinueBounds(t *testing.T) {
	s := NewLoopState(2)
	if !s.ShouldContinue() {
		t.Fatal("fresh state should continue")
	}
	s = s.StartIteration()
	if !s.ShouldContinue() {
		t.Fatal("one iteration in, should continue")
	}
	s = s.StartIteration()
	if s.ShouldContinue() {
		t.Fatal("budget spent, should stop")
	}
	if !s.HasReachedMax() {
		t.Error("HasReachedMax should be true at the bound")
	}
}

func TestCompleteWithReport(t *testing.T) {
	s := NewLoopState(5).StartIteration()
	s = s.Complete("all done", true)
	if s.Active {
		t.Error("completed state must be inactive")
	}
	if !s.Completed {
		t.Error("completed flag not set")
	}
	if !s.ReportOutCalled {
		t.Error("report-out flag not set")
	}
	if s.FinalReport != "all done" {
		t.Errorf("final report = %q", s.FinalReport)
	}
	if s.ShouldContinue() {
		t.Error("completed state must not continue")
	}
}

func TestCompleteFallbackKeepsReportOutFalse(t *testing.T) {
	s := NewLoopState(3)
	s = s.Complete("Completed after 3 iterations without explicit report.", false)
	if s.ReportOutCalled {
		t.Error("fallback completion must not set ReportOutCalled")
	}
	if !s.Completed {
		t.Error("completed flag not set")
	}
}

func TestNoTransitionLeavesCompleted(t *testing.T) {
	s := NewLoopState(5).StartIteration().Complete("done", true)

	after := s.StartIteration()
	if after != s {
		t.Errorf("StartIteration changed a completed state: %+v", after)
	}
	after = s.Complete("rewrite", false)
	if after != s {
		t.Errorf("Complete changed a completed state: %+v", after)
	}
}

func TestWithToolInvocations(t *testing.T) {
	s := NewLoopState(5)
	if s.HasToolInvocations {
		t.Fatal("fresh state should have no tool invocations")
	}
	s2 := s.WithToolInvocations()
	if !s2.HasToolInvocations {
		t.Error("flag not set")
	}
	if s.HasToolInvocations {
		t.Error("receiver mutated; transitions must be value semantics")
	}
}
