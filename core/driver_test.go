package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingPulse struct {
	n atomic.Int64
}

func (p *countingPulse) Tick() TickReport {
	return TickReport{Tick: uint64(p.n.Add(1))}
}

// TestTickLoop_TickNow verifies on-demand ticks run on the loop goroutine
// Given: A loop without timer around a scheduler
// When: TickNow is called after scheduling work
// Then: The work ran and the report is returned
func TestTickLoop_TickNow(t *testing.T) {
	s := newTestScheduler(nil, nil)
	loop := NewTickLoop(s, 0)
	defer loop.Stop()

	done := make(chan struct{})
	s.Schedule("once", PriorityNormal, func(context.Context) { close(done) })

	report, err := loop.TickNow(context.Background())
	if err != nil {
		t.Fatalf("TickNow() error = %v", err)
	}
	if report.Processed() != 1 {
		t.Errorf("Processed() = %d, want 1", report.Processed())
	}
	select {
	case <-done:
	default:
		t.Fatal("task did not run")
	}
	if loop.Ticks() != 1 {
		t.Errorf("Ticks() = %d, want 1", loop.Ticks())
	}
	if last, ok := loop.LastReport(); !ok || last.Tick != 1 {
		t.Errorf("LastReport() = %+v, %v", last, ok)
	}
}

// TestTickLoop_Interval verifies the timer drives ticks
// Given: A loop with a 1ms interval
// When: It runs for a while and is stopped
// Then: Ticks advance while running and not after Stop
func TestTickLoop_Interval(t *testing.T) {
	p := &countingPulse{}
	loop := NewTickLoop(p, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for loop.Ticks() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d ticks after 2s", loop.Ticks())
		}
		time.Sleep(time.Millisecond)
	}
	loop.Stop()

	stopped := loop.Ticks()
	time.Sleep(10 * time.Millisecond)
	if loop.Ticks() != stopped {
		t.Errorf("ticks advanced after Stop: %d -> %d", stopped, loop.Ticks())
	}
}

// TestTickLoop_Trigger verifies fire-and-forget triggers
// Given: A loop without a timer
// When: Trigger is called
// Then: A tick runs
func TestTickLoop_Trigger(t *testing.T) {
	p := &countingPulse{}
	loop := NewTickLoop(p, 0)
	defer loop.Stop()

	loop.Trigger()

	deadline := time.Now().Add(2 * time.Second)
	for loop.Ticks() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Trigger() did not cause a tick")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestTickLoop_StopIsIdempotent verifies Stop and TickNow after Stop
// Given: A running loop
// When: Stop is called twice
// Then: Done is closed and TickNow fails with ErrTickLoopStopped
func TestTickLoop_StopIsIdempotent(t *testing.T) {
	loop := NewTickLoop(&countingPulse{}, 0)

	loop.Stop()
	loop.Stop()

	select {
	case <-loop.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}
	if _, err := loop.TickNow(context.Background()); !errors.Is(err, ErrTickLoopStopped) {
		t.Errorf("TickNow() after Stop error = %v, want ErrTickLoopStopped", err)
	}
}

// TestTickLoop_TickNowContextCancelled verifies TickNow honours its context
// Given: A loop busy with a blocked tick
// When: TickNow is called with a short deadline
// Then: It returns DeadlineExceeded
func TestTickLoop_TickNowContextCancelled(t *testing.T) {
	block := make(chan struct{})
	loop := NewTickLoop(pulseFunc(func() TickReport {
		<-block
		return TickReport{}
	}), 0)
	defer loop.Stop()
	defer close(block)

	// First request occupies the loop.
	loop.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := loop.TickNow(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("TickNow() error = %v, want DeadlineExceeded", err)
	}
}

type pulseFunc func() TickReport

func (f pulseFunc) Tick() TickReport { return f() }

// TestTickLoop_ReentrantCalls verifies calls made from inside a tick
// Given: A pulse that calls TickNow and then Stop on its own loop
// When: The loop ticks
// Then: TickNow fails with ErrReentrantTick, Stop returns and the loop exits
func TestTickLoop_ReentrantCalls(t *testing.T) {
	var loop *TickLoop
	ready := make(chan struct{})
	results := make(chan error, 1)
	loop = NewTickLoop(pulseFunc(func() TickReport {
		<-ready
		if !loop.OnLoop() {
			t.Error("OnLoop() = false inside a tick")
		}
		_, err := loop.TickNow(context.Background())
		loop.Stop()
		results <- err
		return TickReport{}
	}), 0)
	if loop.OnLoop() {
		t.Error("OnLoop() = true outside the loop")
	}
	close(ready)

	loop.Trigger()

	select {
	case err := <-results:
		if !errors.Is(err, ErrReentrantTick) {
			t.Errorf("TickNow() from loop error = %v, want ErrReentrantTick", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant calls blocked the loop")
	}
	select {
	case <-loop.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop from a tick")
	}
	loop.Stop()
}
