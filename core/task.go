package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskFunc is the unit of work (Closure)
type TaskFunc func(ctx context.Context)

// =============================================================================
// Priority: the three scheduling classes
// =============================================================================

type Priority int

const (
	// PriorityHigh: resources, critical operations
	PriorityHigh Priority = iota

	// PriorityNormal: default class
	PriorityNormal

	// PriorityLow: statistics, cleanup, anything that may wait
	PriorityLow

	numPriorities = 3
)

// Priorities lists the classes in drain order.
var Priorities = [numPriorities]Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the three known classes.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ParsePriority parses HIGH, NORMAL or LOW (case-insensitive).
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// =============================================================================
// Task
// =============================================================================

// TaskID identifies a task within one scheduler.
type TaskID uint64

func (id TaskID) String() string {
	return fmt.Sprintf("task-%d", uint64(id))
}

// Task is an immutable record owned by the queue it was pushed into.
type Task struct {
	ID        TaskID
	Name      string
	Priority  Priority
	Fn        TaskFunc
	CreatedAt time.Time
}

// Age returns how long the task has been waiting at now.
func (t *Task) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// =============================================================================
// Context Helper
// =============================================================================
type schedulerKeyType struct{}

type taskNameKeyType struct{}

var (
	schedulerKey schedulerKeyType
	taskNameKey  taskNameKeyType
)

// GetCurrentScheduler returns the scheduler running the current task, or nil
// outside of a task.
func GetCurrentScheduler(ctx context.Context) *Scheduler {
	if v := ctx.Value(schedulerKey); v != nil {
		return v.(*Scheduler)
	}
	return nil
}

// TaskNameFromContext returns the name of the running task.
func TaskNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(taskNameKey).(string); ok {
		return v
	}
	return ""
}
