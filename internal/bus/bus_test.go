package bus

import (
	"sync/atomic"
	"testing"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()

	var first, second atomic.Int32
	b.Subscribe("first", func(ev Event) {
		if ev.Name == "delegation.dispatched" {
			first.Add(1)
		}
	})
	b.Subscribe("second", func(Event) { second.Add(1) })

	b.Publish("delegation.dispatched", map[string]interface{}{"to_agent": "researcher"})

	if got := first.Load(); got != 1 {
		t.Errorf("first handler calls = %d, want 1", got)
	}
	if got := second.Load(); got != 1 {
		t.Errorf("second handler calls = %d, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()

	var calls atomic.Int32
	b.Subscribe("probe", func(Event) { calls.Add(1) })
	b.Publish("tick", nil)
	b.Unsubscribe("probe")
	b.Publish("tick", nil)

	if got := calls.Load(); got != 1 {
		t.Errorf("handler calls = %d, want 1 after unsubscribe", got)
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestResubscribeReplacesHandler(t *testing.T) {
	b := New()

	var old, replacement atomic.Int32
	b.Subscribe("gateway", func(Event) { old.Add(1) })
	b.Subscribe("gateway", func(Event) { replacement.Add(1) })
	b.Publish("health", nil)

	if got := old.Load(); got != 0 {
		t.Errorf("old handler calls = %d, want 0", got)
	}
	if got := replacement.Load(); got != 1 {
		t.Errorf("replacement handler calls = %d, want 1", got)
	}
}

func TestBroadcastStampsTimestamp(t *testing.T) {
	b := New()

	var sawStamp atomic.Bool
	b.Subscribe("probe", func(ev Event) {
		sawStamp.Store(!ev.At.IsZero())
	})
	b.Publish("tick", nil)

	if !sawStamp.Load() {
		t.Error("Publish did not stamp event time")
	}
}
