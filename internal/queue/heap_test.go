package queue

import "testing"

func TestPushPopOrdering(t *testing.T) {
	q := New()
	q.Push(1, 0, 100) // low priority, earliest
	q.Push(2, 2, 200) // high priority
	q.Push(3, 1, 50)  // normal priority

	if id, ok := q.Pop(); !ok || id != 2 {
		t.Fatalf("expected first pop to be id 2 (high priority), got %v ok=%v", id, ok)
	}
	if id, ok := q.Pop(); !ok || id != 3 {
		t.Fatalf("expected second pop to be id 3 (normal priority), got %v ok=%v", id, ok)
	}
	if id, ok := q.Pop(); !ok || id != 1 {
		t.Fatalf("expected third pop to be id 1 (low priority), got %v ok=%v", id, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue after three pops")
	}
}

func TestPushTieBreaksByCreatedAt(t *testing.T) {
	q := New()
	q.Push(1, 1, 200)
	q.Push(2, 1, 100)

	if id, _ := q.Pop(); id != 2 {
		t.Fatalf("expected earlier-created entry to pop first, got %v", id)
	}
}

func TestPushExistingIDUpdatesPriorityInPlace(t *testing.T) {
	q := New()
	q.Push(1, 0, 100)
	q.Push(2, 0, 200)
	q.Push(1, 5, 100) // re-push with higher priority

	if q.Len() != 2 {
		t.Fatalf("expected re-push to update in place, got len %d", q.Len())
	}
	if id, _ := q.Pop(); id != 1 {
		t.Fatalf("expected id 1 to pop first after priority bump, got %v", id)
	}
}

func TestRemove(t *testing.T) {
	q := New()
	q.Push(1, 0, 100)
	q.Push(2, 0, 200)

	if !q.Remove(1) {
		t.Fatal("expected Remove(1) to report success")
	}
	if q.Remove(1) {
		t.Fatal("expected second Remove(1) to report failure")
	}
	if id, _ := q.Pop(); id != 2 {
		t.Fatalf("expected only id 2 left, got %v", id)
	}
}

func TestSetPriorityReordersQueuedEntry(t *testing.T) {
	q := New()
	q.Push(1, 0, 100)
	q.Push(2, 1, 100)

	if !q.SetPriority(1, 5) {
		t.Fatal("expected SetPriority on queued entry to succeed")
	}
	if id, _ := q.Pop(); id != 1 {
		t.Fatalf("expected id 1 to pop first after priority bump, got %v", id)
	}
}

func TestSetPriorityOnMissingIDIsNoop(t *testing.T) {
	q := New()
	if q.SetPriority(99, 5) {
		t.Fatal("expected SetPriority on unqueued id to report failure")
	}
}

func TestWakeSignalsOnPush(t *testing.T) {
	q := New()
	q.Push(1, 0, 100)

	select {
	case <-q.Wake():
	default:
		t.Fatal("expected Wake channel to be signaled after Push")
	}
}
