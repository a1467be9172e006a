package mainthread

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
	"github.com/MetaphysicsNecrosis/go-mainthread/dispatch"
)

// DefaultTickInterval is one frame at 60 Hz.
const DefaultTickInterval = 16 * time.Millisecond

// ErrDrainTimeout is returned by StopGraceful when work is still pending
// at the deadline.
var ErrDrainTimeout = errors.New("mainthread: drain timed out")

// Options configures a MainThread.
type Options struct {
	// Config is passed to core.NewScheduler; nil means core.DefaultConfig.
	Config *core.Config

	// TickInterval is the period of the tick loop. Zero means
	// DefaultTickInterval; a negative value disables the timer so the
	// thread only ticks on Trigger or TickNow.
	TickInterval time.Duration

	// WakeOnSchedule requests an extra tick on every successful Schedule
	// made through the MainThread.
	WakeOnSchedule bool

	DispatchOptions []dispatch.Option
}

// MainThread bundles a scheduler, the goroutine that ticks it and a
// dispatcher composing policies over it.
type MainThread struct {
	scheduler  *core.Scheduler
	dispatcher *Dispatcher
	interval   time.Duration
	wake       bool

	loop      *core.TickLoop
	stopWatch func() bool
	running   bool
	stopped   bool
	runningMu sync.RWMutex
}

// New creates a MainThread. Call Start to begin ticking.
func New(opts Options) *MainThread {
	s := core.NewScheduler(opts.Config)

	interval := opts.TickInterval
	switch {
	case interval == 0:
		interval = DefaultTickInterval
	case interval < 0:
		interval = 0
	}

	dopts := append([]dispatch.Option{dispatch.WithLogger(s.Logger())}, opts.DispatchOptions...)
	return &MainThread{
		scheduler:  s,
		dispatcher: dispatch.New(s, dopts...),
		interval:   interval,
		wake:       opts.WakeOnSchedule,
	}
}

// Start launches the tick loop. The thread stops when ctx is done.
// Repeated calls are no-ops; a stopped thread cannot be restarted.
func (mt *MainThread) Start(ctx context.Context) {
	mt.runningMu.Lock()
	defer mt.runningMu.Unlock()

	if mt.running || mt.stopped {
		return
	}

	mt.loop = core.NewTickLoop(mt.scheduler, mt.interval)
	mt.running = true
	mt.stopWatch = context.AfterFunc(ctx, func() { mt.Stop() })

	mt.scheduler.Logger().Info("main thread started",
		core.F("interval", mt.interval),
		core.F("weights", mt.scheduler.Weights().String()))
}

// Stop halts the tick loop, closes the dispatcher and shuts the scheduler
// down. It returns the number of pending tasks that were discarded.
//
// Stop may be called from a task running on the main thread. The rest of
// the current tick then sees empty queues and the loop exits when the
// tick returns.
func (mt *MainThread) Stop() int {
	mt.runningMu.Lock()
	if mt.stopped {
		mt.runningMu.Unlock()
		return 0
	}
	mt.stopped = true
	loop := mt.loop
	stopWatch := mt.stopWatch
	mt.running = false
	mt.runningMu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	if loop != nil {
		loop.Stop()
	}
	mt.dispatcher.Close()
	discarded := mt.scheduler.Shutdown()

	mt.scheduler.Logger().Info("main thread stopped", core.F("discarded", discarded))
	return discarded
}

// StopGraceful closes the dispatcher, keeps ticking until every queue is
// empty, then stops. It returns ErrDrainTimeout if work remains after
// timeout; that work is discarded.
func (mt *MainThread) StopGraceful(timeout time.Duration) error {
	mt.runningMu.RLock()
	running := mt.running
	loop := mt.loop
	mt.runningMu.RUnlock()

	if !running {
		mt.Stop()
		return nil
	}

	mt.dispatcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for mt.scheduler.Stats().TotalPending > 0 {
		if ctx.Err() != nil {
			mt.Stop()
			return ErrDrainTimeout
		}
		if _, err := loop.TickNow(ctx); err != nil {
			mt.Stop()
			if ctx.Err() != nil {
				return ErrDrainTimeout
			}
			return err
		}
	}

	mt.Stop()
	return nil
}

func (mt *MainThread) IsRunning() bool {
	mt.runningMu.RLock()
	defer mt.runningMu.RUnlock()
	return mt.running
}

// Schedule submits fn to the scheduler.
func (mt *MainThread) Schedule(name string, priority Priority, fn TaskFunc) TaskID {
	id := mt.scheduler.Schedule(name, priority, fn)
	if id != 0 && mt.wake {
		mt.Trigger()
	}
	return id
}

// Trigger requests an extra tick.
func (mt *MainThread) Trigger() {
	mt.runningMu.RLock()
	loop := mt.loop
	mt.runningMu.RUnlock()
	if loop != nil {
		loop.Trigger()
	}
}

// TickNow runs one tick on the loop goroutine and returns its report.
func (mt *MainThread) TickNow(ctx context.Context) (TickReport, error) {
	mt.runningMu.RLock()
	loop := mt.loop
	mt.runningMu.RUnlock()
	if loop == nil {
		return TickReport{}, core.ErrTickLoopStopped
	}
	return loop.TickNow(ctx)
}

func (mt *MainThread) Scheduler() *core.Scheduler {
	return mt.scheduler
}

func (mt *MainThread) Dispatcher() *Dispatcher {
	return mt.dispatcher
}

func (mt *MainThread) Stats() Stats {
	return mt.scheduler.Stats()
}

func (mt *MainThread) Health() HealthStatus {
	return mt.scheduler.Health()
}

// SystemHealth rates backlog, failure rate and execution time together.
func (mt *MainThread) SystemHealth() SystemHealthReport {
	return mt.scheduler.SystemHealth()
}

// =============================================================================
// Global Main Thread Helper (Singleton)
// =============================================================================

var (
	globalMainThread *MainThread
	globalMu         sync.Mutex
)

// InitGlobal creates and starts the global main thread. Later calls are
// no-ops until ShutdownGlobal.
func InitGlobal(opts Options) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMainThread != nil {
		return
	}

	globalMainThread = New(opts)
	globalMainThread.Start(context.Background())
}

// Global returns the global main thread.
// It panics if InitGlobal has not been called.
func Global() *MainThread {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMainThread == nil {
		panic("global main thread not initialized. Call InitGlobal() first.")
	}
	return globalMainThread
}

// ShutdownGlobal stops the global main thread and returns the number of
// discarded tasks.
func ShutdownGlobal() int {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMainThread == nil {
		return 0
	}
	n := globalMainThread.Stop()
	globalMainThread = nil
	return n
}
