package delegation

import (
	"testing"
	"time"
)

func pendingRec(id, toAgent, conversationID string) *PendingDelegation {
	return &PendingDelegation{
		ID:             id,
		FromAgent:      "coordinator",
		ToAgent:        toAgent,
		Task:           "task " + id,
		ConversationID: conversationID,
		Handle:         newHandle(id, "coordinator", toAgent, conversationID),
		CreatedAt:      time.Now(),
	}
}

func TestPendingRegistryTakeByConversation(t *testing.T) {
	reg := newPendingRegistry()
	reg.insert(pendingRec("d1", "tester", "conv1"))

	rec, ok := reg.takeByConversation("conv1")
	if !ok || rec.ID != "d1" {
		t.Fatalf("take = (%v, %v)", rec, ok)
	}
	if _, ok := reg.takeByConversation("conv1"); ok {
		t.Error("second take found the removed record")
	}
	if reg.len() != 0 {
		t.Errorf("len = %d, want 0", reg.len())
	}
}

func TestPendingRegistryTakeOldestByAgent(t *testing.T) {
	reg := newPendingRegistry()
	reg.insert(pendingRec("d1", "tester", "conv1"))
	reg.insert(pendingRec("d2", "tester", "conv2"))
	reg.insert(pendingRec("d3", "writer", "conv3"))

	rec, ok := reg.takeOldestByAgent("tester")
	if !ok || rec.ID != "d1" {
		t.Fatalf("first take = %+v, want d1", rec)
	}
	rec, ok = reg.takeOldestByAgent("tester")
	if !ok || rec.ID != "d2" {
		t.Fatalf("second take = %+v, want d2", rec)
	}
	if _, ok := reg.takeOldestByAgent("tester"); ok {
		t.Error("third take found a record")
	}

	// The writer record is untouched.
	if reg.len() != 1 {
		t.Errorf("len = %d, want 1", reg.len())
	}
}

func TestPendingRegistryTakeRemovesFromBothIndexes(t *testing.T) {
	reg := newPendingRegistry()
	reg.insert(pendingRec("d1", "tester", "conv1"))
	reg.insert(pendingRec("d2", "tester", "conv2"))

	// Settling conv1 by conversation must also leave the by-agent index
	// pointing at conv2 next.
	if _, ok := reg.takeByConversation("conv1"); !ok {
		t.Fatal("conv1 not found")
	}
	rec, ok := reg.takeOldestByAgent("tester")
	if !ok || rec.ConversationID != "conv2" {
		t.Errorf("next by agent = %+v, want conv2", rec)
	}
}

func TestPendingRegistryDrain(t *testing.T) {
	reg := newPendingRegistry()
	reg.insert(pendingRec("d1", "tester", "conv1"))
	reg.insert(pendingRec("d2", "writer", "conv2"))

	drained := reg.drain()
	if len(drained) != 2 {
		t.Fatalf("drained = %d, want 2", len(drained))
	}
	if reg.len() != 0 {
		t.Errorf("len after drain = %d, want 0", reg.len())
	}
	if _, ok := reg.takeOldestByAgent("tester"); ok {
		t.Error("record found after drain")
	}
}

func TestPendingRegistrySnapshotDoesNotRemove(t *testing.T) {
	reg := newPendingRegistry()
	reg.insert(pendingRec("d1", "tester", "conv1"))

	if got := len(reg.snapshot()); got != 1 {
		t.Fatalf("snapshot len = %d, want 1", got)
	}
	if reg.len() != 1 {
		t.Errorf("len after snapshot = %d, want 1", reg.len())
	}
}
