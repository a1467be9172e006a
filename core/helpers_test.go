package core

import (
	"context"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock shared by queues and scheduler in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func noop(ctx context.Context) {}

// newTestScheduler builds a scheduler with a fake clock and silent handlers.
func newTestScheduler(clock *fakeClock, mutate func(cfg *Config)) *Scheduler {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	cfg.PanicHandler = &silentPanicHandler{}
	cfg.RejectedTaskHandler = &silentRejectedHandler{}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewScheduler(cfg)
}

type silentPanicHandler struct {
	mu     sync.Mutex
	panics []string
}

func (h *silentPanicHandler) HandlePanic(ctx context.Context, taskName string, priority Priority, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, taskName)
}

type silentRejectedHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *silentRejectedHandler) HandleRejectedTask(taskName string, priority Priority, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}
