package mainthread

import (
	"context"
	"errors"

	"github.com/MetaphysicsNecrosis/go-mainthread/core"
	"github.com/MetaphysicsNecrosis/go-mainthread/dispatch"
)

// Re-export commonly used types from the core and dispatch packages.
// This allows users to import only the mainthread package for most use cases.

// TaskFunc is the unit of work
type TaskFunc = core.TaskFunc

// Priority is one of the three scheduling classes
type Priority = core.Priority

// TaskID identifies an accepted task; zero means rejected
type TaskID = core.TaskID

type (
	Config             = core.Config
	Weights            = core.Weights
	Stats              = core.Stats
	TickReport         = core.TickReport
	HealthStatus       = core.HealthStatus
	SystemHealthReport = core.SystemHealthReport
	Scheduler          = core.Scheduler
	Logger             = core.Logger
	Dispatcher         = dispatch.Dispatcher
	RetryPolicy        = dispatch.RetryPolicy
	DelayedHandle      = dispatch.DelayedHandle
)

// RepeatingHandle controls the lifecycle of a repeating task
type RepeatingHandle = dispatch.RepeatingHandle

// Future is the eventual result of a submitted task
type Future[T any] = dispatch.Future[T]

// Priority constants
const (
	PriorityHigh   Priority = core.PriorityHigh
	PriorityNormal Priority = core.PriorityNormal
	PriorityLow    Priority = core.PriorityLow
)

// Health constants
const (
	HealthHealthy  HealthStatus = core.HealthHealthy
	HealthWarning  HealthStatus = core.HealthWarning
	HealthCritical HealthStatus = core.HealthCritical
)

var (
	DefaultConfig      = core.DefaultConfig
	DefaultWeights     = core.DefaultWeights
	WeightPreset       = core.WeightPreset
	DefaultRetryPolicy = dispatch.DefaultRetryPolicy
	NewScheduler       = core.NewScheduler
)

// GetCurrentScheduler retrieves the running scheduler from a task context
var GetCurrentScheduler = core.GetCurrentScheduler

// TaskNameFromContext returns the name of the running task
var TaskNameFromContext = core.TaskNameFromContext

// Submit schedules fn on mt and returns a future for its result.
func Submit[T any](mt *MainThread, name string, priority Priority, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := dispatch.Submit(mt.dispatcher, name, priority, fn)
	if _, err, done := f.Result(); done && errors.Is(err, dispatch.ErrRejected) {
		return f
	}
	if mt.wake {
		mt.Trigger()
	}
	return f
}
