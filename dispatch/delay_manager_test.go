package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDelayManager_BatchProcessing(t *testing.T) {
	dm := NewDelayManager()
	defer dm.Stop()

	var fired atomic.Int32
	for range 100 {
		dm.Add("batch", 20*time.Millisecond, func() { fired.Add(1) })
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() < 100 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := fired.Load(); got != 100 {
		t.Fatalf("expected 100 callbacks, got %d", got)
	}
	if n := dm.TaskCount(); n != 0 {
		t.Errorf("expected empty heap, got %d entries", n)
	}
}

func TestDelayManager_Order(t *testing.T) {
	dm := NewDelayManager()
	defer dm.Stop()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	record := func(name string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			if len(order) == 3 {
				close(done)
			}
		}
	}

	// Added out of order; the earliest deadline must wake the loop.
	dm.Add("c", 40*time.Millisecond, record("c"))
	dm.Add("a", 10*time.Millisecond, record("a"))
	dm.Add("b", 25*time.Millisecond, record("b"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callbacks did not fire")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestDelayManager_Cancel(t *testing.T) {
	dm := NewDelayManager()
	defer dm.Stop()

	var fired atomic.Bool
	e := dm.Add("cancel", 20*time.Millisecond, func() { fired.Store(true) })
	keep := dm.Add("keep", time.Hour, func() {})

	if !dm.Cancel(e) {
		t.Fatal("expected Cancel to remove a waiting entry")
	}
	if dm.Cancel(e) {
		t.Error("second Cancel should report false")
	}
	if dm.Cancel(nil) {
		t.Error("Cancel(nil) should report false")
	}
	if n := dm.TaskCount(); n != 1 {
		t.Errorf("expected 1 entry left, got %d", n)
	}

	time.Sleep(40 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled entry fired")
	}
	if !dm.Cancel(keep) {
		t.Error("expected the remaining entry to be cancellable")
	}
}

func TestDelayManager_StopDropsPending(t *testing.T) {
	dm := NewDelayManager()

	var fired atomic.Bool
	dm.Add("late", 20*time.Millisecond, func() { fired.Store(true) })
	dm.Stop()

	if n := dm.TaskCount(); n != 0 {
		t.Errorf("expected empty heap after Stop, got %d", n)
	}
	if e := dm.Add("after", time.Millisecond, func() {}); e != nil {
		t.Error("Add after Stop should return nil")
	}

	time.Sleep(40 * time.Millisecond)
	if fired.Load() {
		t.Error("entry fired after Stop")
	}
}
