package scheduler

import (
	"container/heap"
	"sync"
)

// taskHeap implements heap.Interface for Tasks.
// Higher Priority value = dispatched first; FIFO within a priority tier.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

// Push adds a task to the heap. Called by heap.Push — do not call directly.
func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

// Pop removes and returns the last task. Called by heap.Pop — do not call directly.
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return task
}

// taskQueue is the synchronized priority queue feeding the dispatch loop.
type taskQueue struct {
	mu     sync.Mutex
	heap   taskHeap
	seq    uint64
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

// push enqueues a task. Returns false if the queue is closed, in which
// case the caller must settle the task itself.
func (q *taskQueue) push(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.seq++
	t.seq = q.seq
	heap.Push(&q.heap, t)
	return true
}

// pop removes and returns the highest-priority task, or nil if empty.
func (q *taskQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*Task)
}

// len returns the number of queued tasks.
func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// close marks the queue closed and returns all still-queued tasks so the
// caller can settle them as aborted. Pushes after close are rejected.
func (q *taskQueue) close() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	drained := make([]*Task, 0, len(q.heap))
	for len(q.heap) > 0 {
		drained = append(drained, heap.Pop(&q.heap).(*Task))
	}
	return drained
}
