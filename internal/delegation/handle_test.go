package delegation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHandleSettlesExactlyOnce(t *testing.T) {
	h := newHandle("d1", "coordinator", "tester", "conv1")

	if !h.resolve("first") {
		t.Fatal("first resolve not accepted")
	}
	if h.resolve("second") {
		t.Error("second resolve accepted")
	}
	if h.reject(errors.New("late failure")) {
		t.Error("reject after resolve accepted")
	}

	report, err := h.Wait(context.Background())
	if err != nil || report != "first" {
		t.Errorf("Wait = (%q, %v), want (first, nil)", report, err)
	}
}

func TestHandleConcurrentSettlement(t *testing.T) {
	h := newHandle("d1", "a", "b", "conv1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.resolve("winner") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestHandleWaitHonorsContext(t *testing.T) {
	h := newHandle("d1", "a", "b", "conv1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if h.Settled() {
		t.Error("caller timeout must not settle the handle")
	}

	// The delegation can still settle afterwards.
	h.resolve("late but fine")
	report, err := h.Wait(context.Background())
	if err != nil || report != "late but fine" {
		t.Errorf("Wait = (%q, %v)", report, err)
	}
}

func TestHandleRejectCarriesError(t *testing.T) {
	h := newHandle("d1", "a", "b", "conv1")
	cause := &DelegationError{FromAgent: "a", ToAgent: "b", Reason: "deadline exceeded", Err: ErrDelegationTimeout}
	h.reject(cause)

	_, err := h.Wait(context.Background())
	if !errors.Is(err, ErrDelegationTimeout) {
		t.Errorf("err = %v, want timeout flavor", err)
	}
	if !h.Settled() {
		t.Error("rejected handle must read as settled")
	}
}
