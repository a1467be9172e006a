package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Pulse is anything driven one tick at a time. *Scheduler is a Pulse.
type Pulse interface {
	Tick() TickReport
}

var (
	// ErrTickLoopStopped is returned by TickNow after Stop.
	ErrTickLoopStopped = errors.New("tick loop stopped")
	// ErrReentrantTick is returned by TickNow when called from a task
	// running on the loop goroutine.
	ErrReentrantTick = errors.New("tick loop: TickNow called from the loop goroutine")
)

// TickLoop binds a Pulse to one dedicated goroutine, which becomes the
// consumer goroutine of the pulse. It ticks on every interval and on every
// Trigger or TickNow call.
type TickLoop struct {
	pulse    Pulse
	interval time.Duration

	// A nil reply channel is a fire-and-forget trigger.
	requests chan chan TickReport

	// Lifecycle control
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once

	ticks atomic.Uint64
	last  atomic.Pointer[TickReport]

	loopGoroutineID atomic.Uint64
}

// NewTickLoop creates and starts a loop. An interval <= 0 disables the
// timer; the loop then only ticks on demand.
func NewTickLoop(p Pulse, interval time.Duration) *TickLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &TickLoop{
		pulse:    p,
		interval: interval,
		requests: make(chan chan TickReport, 1),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}

	go l.runLoop()

	return l
}

// Trigger requests an extra tick without waiting for it. Triggers that
// arrive while one is already pending are coalesced.
func (l *TickLoop) Trigger() {
	select {
	case l.requests <- nil:
	default:
	}
}

// TickNow runs one tick on the loop goroutine and waits for its report.
func (l *TickLoop) TickNow(ctx context.Context) (TickReport, error) {
	if l.OnLoop() {
		return TickReport{}, ErrReentrantTick
	}
	reply := make(chan TickReport, 1)

	select {
	case l.requests <- reply:
	case <-l.ctx.Done():
		return TickReport{}, ErrTickLoopStopped
	case <-ctx.Done():
		return TickReport{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-l.stopped:
		// The request may still have been served before the loop exited.
		select {
		case r := <-reply:
			return r, nil
		default:
			return TickReport{}, ErrTickLoopStopped
		}
	case <-ctx.Done():
		return TickReport{}, ctx.Err()
	}
}

// Ticks returns how many ticks the loop has run.
func (l *TickLoop) Ticks() uint64 {
	return l.ticks.Load()
}

// LastReport returns the report of the most recent tick.
func (l *TickLoop) LastReport() (TickReport, bool) {
	if r := l.last.Load(); r != nil {
		return *r, true
	}
	return TickReport{}, false
}

// Done is closed once the loop goroutine has exited.
func (l *TickLoop) Done() <-chan struct{} {
	return l.stopped
}

// Stop ends the loop and waits for the in-flight tick to finish. Called
// from a task on the loop goroutine it does not wait; the loop exits once
// the current tick returns.
func (l *TickLoop) Stop() {
	l.once.Do(l.cancel)
	if l.OnLoop() {
		return
	}
	<-l.stopped
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *TickLoop) OnLoop() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && goroutineID() == id
}

func (l *TickLoop) runLoop() {
	defer close(l.stopped)

	l.loopGoroutineID.Store(goroutineID())
	defer l.loopGoroutineID.Store(0)

	var timer <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		timer = ticker.C
	}

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-timer:
			l.tick()
		case reply := <-l.requests:
			r := l.tick()
			if reply != nil {
				reply <- r
			}
		}
	}
}

func (l *TickLoop) tick() TickReport {
	r := l.pulse.Tick()
	l.ticks.Add(1)
	l.last.Store(&r)
	return r
}

// goroutineID parses the current goroutine's ID from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
