package core

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// TaskQueue is the FIFO queue backing one priority class.
//
// Push may be called from any goroutine. Pop, PopUpTo and Drain are meant for
// the consumer goroutine only. CreatedAt is stamped under the queue lock, so
// the head is always the oldest task in the queue.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  []Task
	length atomic.Int64
	clock  func() time.Time
}

func NewTaskQueue(clock func() time.Time) *TaskQueue {
	if clock == nil {
		clock = time.Now
	}
	return &TaskQueue{
		tasks: make([]Task, 0, defaultQueueCap),
		clock: clock,
	}
}

// Push appends t, stamping its creation time.
func (q *TaskQueue) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.CreatedAt = q.clock()
	q.tasks = append(q.tasks, t)
	q.length.Store(int64(len(q.tasks)))
}

func (q *TaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	item := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = Task{}
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()
	q.length.Store(int64(len(q.tasks)))

	return item, true
}

func (q *TaskQueue) PopUpTo(max int) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.tasks)
	if n == 0 || max <= 0 {
		return nil
	}

	if n <= max {
		batch := q.tasks
		q.tasks = make([]Task, 0, defaultQueueCap)
		q.length.Store(0)
		return batch
	}

	batch := make([]Task, max)
	copy(batch, q.tasks[:max])

	for i := range max {
		q.tasks[i] = Task{}
	}

	q.tasks = q.tasks[max:]
	q.maybeCompactLocked()
	q.length.Store(int64(len(q.tasks)))

	return batch
}

// PeekOldestAge returns the age of the head task at now.
func (q *TaskQueue) PeekOldestAge(now time.Time) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return 0, false
	}
	return q.tasks[0].Age(now), true
}

// Len is eventually consistent and lock-free; use it for diagnostics only.
func (q *TaskQueue) Len() int {
	return int(q.length.Load())
}

func (q *TaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes every task and returns how many were dropped.
func (q *TaskQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	// Create a new slice to release all task references
	q.tasks = make([]Task, 0, defaultQueueCap)
	q.length.Store(0)
	return n
}

func (q *TaskQueue) MaybeCompact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maybeCompactLocked()
}

func (q *TaskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]Task, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]Task, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}
