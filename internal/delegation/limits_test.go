package delegation

import (
	"strings"
	"testing"
)

func TestLimitsRatePerDelegator(t *testing.T) {
	l := NewLimits(1, 0)

	if err := l.AllowDispatch("coordinator"); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	err := l.AllowDispatch("coordinator")
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("second dispatch err = %v, want rate limit", err)
	}

	// Other delegators have their own bucket.
	if err := l.AllowDispatch("editor"); err != nil {
		t.Errorf("other delegator: %v", err)
	}
}

func TestLimitsLaneCapacity(t *testing.T) {
	l := NewLimits(0, 2)

	rel1, err := l.AcquireLane("tester")
	if err != nil {
		t.Fatalf("lane 1: %v", err)
	}
	rel2, err := l.AcquireLane("tester")
	if err != nil {
		t.Fatalf("lane 2: %v", err)
	}
	if _, err := l.AcquireLane("tester"); err == nil {
		t.Fatal("third lane granted beyond capacity")
	}

	// Other targets are unaffected.
	relOther, err := l.AcquireLane("writer")
	if err != nil {
		t.Fatalf("other target: %v", err)
	}
	relOther()

	// Releasing frees a lane.
	rel1()
	rel3, err := l.AcquireLane("tester")
	if err != nil {
		t.Fatalf("lane after release: %v", err)
	}
	rel3()
	rel2()
}

func TestLimitsDisabledChecks(t *testing.T) {
	l := NewLimits(0, 0)

	for i := 0; i < 100; i++ {
		if err := l.AllowDispatch("anyone"); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	for i := 0; i < 100; i++ {
		release, err := l.AcquireLane("anyone")
		if err != nil {
			t.Fatalf("lane %d: %v", i, err)
		}
		release()
	}

	var nilLimits *Limits
	if err := nilLimits.AllowDispatch("x"); err != nil {
		t.Errorf("nil limits dispatch: %v", err)
	}
	if _, err := nilLimits.AcquireLane("x"); err != nil {
		t.Errorf("nil limits lane: %v", err)
	}
}
