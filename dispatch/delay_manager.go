package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayedEntry is a callback waiting for its deadline.
type DelayedEntry struct {
	RunAt time.Time
	Name  string
	fire  func()
	index int // for heap interface
}

// delayedHeap implements heap.Interface
type delayedHeap []*DelayedEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedEntry)
	item.index = n
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h delayedHeap) peek() *DelayedEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// DelayManager fires callbacks once their delay has elapsed. A single
// goroutine owns the timer; callbacks run on that goroutine and must only
// hand work over (normally a Schedule call).
type DelayManager struct {
	pq     delayedHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(delayedHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// Add registers fire to run after delay. It returns nil once the manager
// has been stopped.
func (dm *DelayManager) Add(name string, delay time.Duration, fire func()) *DelayedEntry {
	if dm.ctx.Err() != nil {
		return nil
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := &DelayedEntry{
		RunAt: time.Now().Add(delay),
		Name:  name,
		fire:  fire,
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return item
}

// Cancel removes an entry that has not fired yet. It reports whether the
// entry was still waiting.
func (dm *DelayManager) Cancel(item *DelayedEntry) bool {
	if item == nil {
		return false
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if item.index < 0 || item.index >= len(dm.pq) || dm.pq[item.index] != item {
		return false
	}
	heap.Remove(&dm.pq, item.index)
	return true
}

func (dm *DelayManager) loop() {
	defer close(dm.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun, ok := dm.calculateNextRun()
		if !ok {
			// Nothing queued, wait for a wakeup
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun returns how long to wait for the earliest entry; ok is
// false when the heap is empty.
func (dm *DelayManager) calculateNextRun() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.peek()
	if item == nil {
		return 0, false
	}

	d := time.Until(item.RunAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (dm *DelayManager) processExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*DelayedEntry

	for dm.pq.Len() > 0 {
		item := dm.pq.peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	// Fire outside the lock
	for _, item := range expired {
		if dm.ctx.Err() != nil {
			return
		}
		item.fire()
	}
}

// Stop ends the timer goroutine and drops every entry that has not fired.
func (dm *DelayManager) Stop() {
	dm.cancel()
	<-dm.done

	dm.mu.Lock()
	for _, item := range dm.pq {
		item.index = -1
	}
	dm.pq = make(delayedHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
}

func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
