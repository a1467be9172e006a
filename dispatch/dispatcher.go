// Package dispatch layers caller-facing policies over a main-thread
// scheduler: futures, timeouts, retries, delayed and repeating tasks, and
// batches. Everything here is expressed through Schedule; the scheduler
// itself knows nothing about these policies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
)

var (
	// ErrTimeout completes a future whose task did not finish in time.
	ErrTimeout = errors.New("dispatch: task timed out")
	// ErrRetriesExhausted completes a future after its last failed attempt.
	ErrRetriesExhausted = errors.New("dispatch: retries exhausted")
	// ErrTaskPanicked wraps a panic raised inside a composed task.
	ErrTaskPanicked = errors.New("dispatch: task panicked")
	// ErrRejected completes a future whose task the scheduler refused.
	ErrRejected = errors.New("dispatch: task rejected")
	// ErrDiscarded completes a future whose task was dropped by shutdown.
	ErrDiscarded = errors.New("dispatch: task discarded at shutdown")
	// ErrClosed is returned once the dispatcher has been closed.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Scheduler is the part of *core.Scheduler a Dispatcher needs.
type Scheduler interface {
	Schedule(name string, priority core.Priority, fn core.TaskFunc) core.TaskID
	Health() core.HealthStatus
	Stats() core.Stats
	Context() context.Context
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for retry and repeating diagnostics.
func WithLogger(l core.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher composes higher-level submission policies over a Scheduler.
type Dispatcher struct {
	sched  Scheduler
	delays *DelayManager
	logger core.Logger
	closed atomic.Bool
}

func New(s Scheduler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sched:  s,
		delays: NewDelayManager(),
		logger: core.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close stops the delay timer. Pending delayed tasks, retries and
// repeating tasks are dropped; tasks already handed to the scheduler are
// unaffected.
func (d *Dispatcher) Close() {
	if d.closed.CompareAndSwap(false, true) {
		d.delays.Stop()
	}
}

func (d *Dispatcher) IsClosed() bool {
	return d.closed.Load()
}

// Execute schedules fn at NORMAL priority.
func (d *Dispatcher) Execute(name string, fn core.TaskFunc) core.TaskID {
	return d.sched.Schedule(name, core.PriorityNormal, fn)
}

func (d *Dispatcher) ExecuteHighPriority(name string, fn core.TaskFunc) core.TaskID {
	return d.sched.Schedule(name, core.PriorityHigh, fn)
}

func (d *Dispatcher) ExecuteLowPriority(name string, fn core.TaskFunc) core.TaskID {
	return d.sched.Schedule(name, core.PriorityLow, fn)
}

func (d *Dispatcher) Health() core.HealthStatus {
	return d.sched.Health()
}

func (d *Dispatcher) Stats() core.Stats {
	return d.sched.Stats()
}

// PendingDelayed returns how many delayed tasks, retries and repeating
// runs are waiting on the timer.
func (d *Dispatcher) PendingDelayed() int {
	return d.delays.TaskCount()
}

// DelayedHandle refers to a task waiting on the delay timer.
type DelayedHandle struct {
	d     *Dispatcher
	entry *DelayedEntry
	fired atomic.Bool
	id    atomic.Uint64
}

// Cancel prevents the task from being scheduled. It reports false when
// the delay has already elapsed.
func (h *DelayedHandle) Cancel() bool {
	return h.d.delays.Cancel(h.entry)
}

// Fired reports whether the delay elapsed and the task was handed to the
// scheduler.
func (h *DelayedHandle) Fired() bool {
	return h.fired.Load()
}

// TaskID returns the scheduler id once fired, or zero.
func (h *DelayedHandle) TaskID() core.TaskID {
	return core.TaskID(h.id.Load())
}

// ScheduleDelayed schedules fn after delay has elapsed.
func (d *Dispatcher) ScheduleDelayed(name string, priority core.Priority, delay time.Duration, fn core.TaskFunc) (*DelayedHandle, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	h := &DelayedHandle{d: d}
	taskName := name + "_Delayed"
	h.entry = d.delays.Add(taskName, delay, func() {
		h.id.Store(uint64(d.sched.Schedule(taskName, priority, fn)))
		h.fired.Store(true)
	})
	if h.entry == nil {
		return nil, ErrClosed
	}
	return h, nil
}

// ExecuteAndReply runs task and, if it returns without panicking,
// schedules reply at replyPriority.
func (d *Dispatcher) ExecuteAndReply(name string, priority core.Priority, task core.TaskFunc, replyPriority core.Priority, reply core.TaskFunc) core.TaskID {
	return d.sched.Schedule(name, priority, func(ctx context.Context) {
		task(ctx)
		d.sched.Schedule(name+"_Reply", replyPriority, reply)
	})
}

// invoke runs fn and turns a panic into an error wrapping ErrTaskPanicked.
// The recovered value is returned so the caller may re-raise it.
func invoke[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (v T, err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
			err = fmt.Errorf("%w: %s: %v", ErrTaskPanicked, name, r)
		}
	}()
	v, err = fn(ctx)
	return v, err, nil
}

func rejected(name string) error {
	return fmt.Errorf("%w: %s", ErrRejected, name)
}

// Submit schedules fn and returns a future for its result. A panic in fn
// fails the future with ErrTaskPanicked and is then re-raised so the
// scheduler records the failure.
func Submit[T any](d *Dispatcher, name string, priority core.Priority, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	id := d.sched.Schedule(name, priority, func(ctx context.Context) {
		v, err, r := invoke(ctx, name, fn)
		f.complete(v, err)
		if r != nil {
			panic(r)
		}
	})
	if id == 0 {
		f.fail(rejected(name))
		return f
	}
	f.failWhenDone(d.sched.Context(), fmt.Errorf("%w: %s", ErrDiscarded, name))
	return f
}

// ExecuteWithTimeout is Submit with a deadline measured from submission.
// If the deadline passes before the task starts, fn is skipped. If it
// passes while fn runs, the future fails with ErrTimeout and fn's result
// is dropped; fn sees the deadline on its context.
func ExecuteWithTimeout[T any](d *Dispatcher, name string, priority core.Priority, timeout time.Duration, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	deadline := time.Now().Add(timeout)
	timedOut := fmt.Errorf("%w: %s after %v", ErrTimeout, name, timeout)
	timer := time.AfterFunc(timeout, func() { f.fail(timedOut) })

	taskName := name + "_WithTimeout"
	id := d.sched.Schedule(taskName, priority, func(ctx context.Context) {
		if f.IsDone() {
			return
		}
		tctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		v, err, r := invoke(tctx, name, fn)
		timer.Stop()
		if r == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			f.fail(timedOut)
			return
		}
		f.complete(v, err)
		if r != nil {
			panic(r)
		}
	})
	if id == 0 {
		timer.Stop()
		f.fail(rejected(taskName))
		return f
	}
	f.failWhenDone(d.sched.Context(), fmt.Errorf("%w: %s", ErrDiscarded, taskName))
	return f
}

// ExecuteWithRetry runs fn until it succeeds or policy.MaxRetries retries
// have failed. Each attempt is a separate task named name_AttemptN; the
// pause between attempts is spent on the delay timer, never on the
// consumer goroutine. Panics count as failed attempts.
func ExecuteWithRetry[T any](d *Dispatcher, name string, priority core.Priority, policy RetryPolicy, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	f.failWhenDone(d.sched.Context(), fmt.Errorf("%w: %s", ErrDiscarded, name))

	var attempt func(n int)
	attempt = func(n int) {
		if d.closed.Load() {
			f.fail(fmt.Errorf("%w: %s", ErrClosed, name))
			return
		}
		taskName := fmt.Sprintf("%s_Attempt%d", name, n+1)
		id := d.sched.Schedule(taskName, priority, func(ctx context.Context) {
			v, err, _ := invoke(ctx, taskName, fn)
			if err == nil {
				f.complete(v, nil)
				return
			}
			if n+1 >= policy.Attempts() {
				f.fail(fmt.Errorf("%w: %s failed after %d attempts: %w", ErrRetriesExhausted, name, n+1, err))
				return
			}

			delay := policy.Delay(n)
			d.logger.Debug("task attempt failed, retrying",
				core.F("task", name),
				core.F("attempt", n+1),
				core.F("delay", delay),
				core.F("error", err))

			if delay <= 0 {
				attempt(n + 1)
				return
			}
			if d.delays.Add(taskName, delay, func() { attempt(n + 1) }) == nil {
				f.fail(fmt.Errorf("%w: %s", ErrClosed, name))
			}
		})
		if id == 0 {
			f.fail(rejected(taskName))
		}
	}
	attempt(0)
	return f
}

// ExecuteBatch runs fns in order inside a single task. The future holds
// the number of functions that completed; the first error or panic stops
// the batch.
func ExecuteBatch(d *Dispatcher, name string, priority core.Priority, fns ...func(context.Context) error) *Future[int] {
	return Submit(d, name, priority, func(ctx context.Context) (int, error) {
		for i, fn := range fns {
			if err := fn(ctx); err != nil {
				return i, fmt.Errorf("batch %s: step %d: %w", name, i, err)
			}
		}
		return len(fns), nil
	})
}
