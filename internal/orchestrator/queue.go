package orchestrator

import (
	"sync"

	"github.com/pkatsogr/crewd/internal/agent"
)

type queuedTask struct {
	ID        string
	AgentName string
	Task      *agent.Task
}

// taskQueue is a FIFO queue with a non-reentrant drain guard. The guard and
// the pending slice share one mutex so that the "queue observed empty, guard
// released" step is atomic: a task enqueued before that step is drained in
// the same pass, and a task enqueued after it finds the guard free and
// triggers a fresh pass.
type taskQueue struct {
	mu       sync.Mutex
	pending  []queuedTask
	draining bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

func (q *taskQueue) enqueue(t queuedTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

// tryAcquire claims the drain guard. It reports false when a drain loop is
// already active.
func (q *taskQueue) tryAcquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

// next pops the head of the queue. When the queue is empty it releases the
// guard in the same critical section and reports false.
func (q *taskQueue) next() (queuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.draining = false
		return queuedTask{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

// release frees the guard without touching the queue, used when draining is
// halted by a pause.
func (q *taskQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.draining = false
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *taskQueue) isDraining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// clear drops every pending item and returns how many were discarded.
func (q *taskQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}
