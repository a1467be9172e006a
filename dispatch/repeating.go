package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

// RepeatingHandle controls a task scheduled by ScheduleRepeating.
type RepeatingHandle struct {
	d        *Dispatcher
	name     string
	priority core.Priority
	fn       core.TaskFunc
	interval time.Duration

	stopped    atomic.Bool
	executions atomic.Int64

	mu      sync.Mutex
	pending *DelayedEntry
}

// ScheduleRepeating runs fn first after initialDelay and then interval
// after each run finishes. A run that panics still reschedules.
func (d *Dispatcher) ScheduleRepeating(name string, priority core.Priority, initialDelay, interval time.Duration, fn core.TaskFunc) (*RepeatingHandle, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	h := &RepeatingHandle{
		d:        d,
		name:     name,
		priority: priority,
		fn:       fn,
		interval: interval,
	}

	if initialDelay > 0 {
		h.arm(initialDelay)
	} else {
		h.post()
	}
	return h, nil
}

// Stop prevents further runs. A run already handed to the scheduler
// becomes a no-op.
func (h *RepeatingHandle) Stop() {
	h.stopped.Store(true)
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()
	h.d.delays.Cancel(pending)
}

func (h *RepeatingHandle) IsStopped() bool {
	return h.stopped.Load()
}

// Executions returns how many runs have started.
func (h *RepeatingHandle) Executions() int64 {
	return h.executions.Load()
}

func (h *RepeatingHandle) active() bool {
	return !h.IsStopped() && !h.d.IsClosed()
}

func (h *RepeatingHandle) post() {
	if !h.active() {
		return
	}
	if h.d.sched.Schedule(h.name, h.priority, h.createRepeatingTask()) == 0 {
		h.d.logger.Debug("repeating task rejected, stopping", core.F("task", h.name))
		h.stopped.Store(true)
	}
}

func (h *RepeatingHandle) arm(delay time.Duration) {
	if !h.active() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = h.d.delays.Add(h.name, delay, h.post)
}

func (h *RepeatingHandle) createRepeatingTask() core.TaskFunc {
	return func(ctx context.Context) {
		if !h.active() {
			return
		}
		defer h.arm(h.interval)

		h.executions.Add(1)
		h.fn(ctx)
	}
}
