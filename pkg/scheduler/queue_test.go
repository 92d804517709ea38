package scheduler

import (
	"testing"
)

func TestTaskQueue_PriorityOrder(t *testing.T) {
	q := newTaskQueue()

	q.push(NewTask("low-1", PriorityLow, 0, nil))
	q.push(NewTask("normal-1", PriorityNormal, 0, nil))
	q.push(NewTask("high-1", PriorityHigh, 0, nil))
	q.push(NewTask("high-2", PriorityHigh, 0, nil))
	q.push(NewTask("normal-2", PriorityNormal, 0, nil))

	expected := []string{"high-1", "high-2", "normal-1", "normal-2", "low-1"}
	for i, want := range expected {
		task := q.pop()
		if task == nil {
			t.Fatalf("pop %d returned nil", i)
		}
		if task.ID != want {
			t.Errorf("pop %d = %q, want %q", i, task.ID, want)
		}
	}

	if q.pop() != nil {
		t.Error("pop on empty queue should return nil")
	}
}

func TestTaskQueue_FIFOWithinTier(t *testing.T) {
	q := newTaskQueue()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		q.push(NewTask(id, PriorityNormal, 0, nil))
	}

	for i, want := range ids {
		if got := q.pop().ID; got != want {
			t.Errorf("pop %d = %q, want %q (FIFO violated)", i, got, want)
		}
	}
}

func TestTaskQueue_Close(t *testing.T) {
	q := newTaskQueue()

	q.push(NewTask("a", PriorityNormal, 0, nil))
	q.push(NewTask("b", PriorityHigh, 0, nil))

	drained := q.close()
	if len(drained) != 2 {
		t.Fatalf("close drained %d tasks, want 2", len(drained))
	}

	if q.push(NewTask("c", PriorityNormal, 0, nil)) {
		t.Error("push after close should be rejected")
	}
	if q.len() != 0 {
		t.Errorf("len after close = %d, want 0", q.len())
	}
}

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{Priority(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.priority.String(); got != tt.expected {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.priority, got, tt.expected)
		}
	}
}
