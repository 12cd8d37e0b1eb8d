package journal

import (
	"context"
	"testing"
)

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	_, found, err := m.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatal("expected missing entry")
	}
}

func TestMemory_DeliveredIsSticky(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	e := Entry{DeliveryID: "d1", OwnerID: "m1", EventType: "payment.succeeded", AttemptCount: 1}

	if err := m.MarkDelivered(ctx, e); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	e.AttemptCount = 2
	e.LastError = "should never land"
	if err := m.MarkPending(ctx, e); err != nil {
		t.Fatalf("MarkPending failed: %v", err)
	}
	if err := m.MarkFailed(ctx, e); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, found, err := m.Get(ctx, "d1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.State != StateDelivered {
		t.Fatalf("terminal state overwritten: %s", got.State)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt count overwritten: %d", got.AttemptCount)
	}
}

func TestMemory_FailedIsSticky(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	e := Entry{DeliveryID: "d2", AttemptCount: 3, LastError: "boom"}

	if err := m.MarkFailed(ctx, e); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if err := m.MarkDelivered(ctx, Entry{DeliveryID: "d2", AttemptCount: 4}); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	got, _, _ := m.Get(ctx, "d2")
	if got.State != StateFailed || got.LastError != "boom" {
		t.Fatalf("failed entry mutated: %+v", got)
	}
}

func TestMemory_PendingCanProgress(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.MarkPending(ctx, Entry{DeliveryID: "d3", AttemptCount: 1, LastError: "timeout"}); err != nil {
		t.Fatalf("MarkPending failed: %v", err)
	}
	if err := m.MarkDelivered(ctx, Entry{DeliveryID: "d3", AttemptCount: 2}); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}

	got, _, _ := m.Get(ctx, "d3")
	if got.State != StateDelivered || got.AttemptCount != 2 {
		t.Fatalf("pending entry did not progress: %+v", got)
	}
}

func TestMemory_ListFiltersByState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.MarkDelivered(ctx, Entry{DeliveryID: "a"})
	_ = m.MarkFailed(ctx, Entry{DeliveryID: "b", LastError: "x"})
	_ = m.MarkPending(ctx, Entry{DeliveryID: "c"})

	failed, err := m.List(ctx, StateFailed, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].DeliveryID != "b" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	all, err := m.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}
