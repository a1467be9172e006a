package core

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
//
// It always runs on the consumer goroutine, inside Tick.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task ran with
	// - taskName: The name of the task that panicked
	// - priority: The class the task was scheduled in
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, taskName string, priority Priority, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic and its stack at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, taskName string, priority Priority, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("task", taskName),
		F("priority", priority),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; most are called from inside Tick.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute and which
	// phase of the tick ran it.
	RecordTaskDuration(priority Priority, origin ExecutionOrigin, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(taskName string, priority Priority, panicInfo any)

	// RecordQueueDepth records the depth of one class queue at tick end.
	RecordQueueDepth(priority Priority, depth int)

	// RecordTaskRejected records that Schedule refused a task.
	RecordTaskRejected(priority Priority, reason string)

	// RecordTick records the outcome of one tick.
	RecordTick(report TickReport)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(priority Priority, origin ExecutionOrigin, duration time.Duration) {
}

func (m *NilMetrics) RecordTaskPanic(taskName string, priority Priority, panicInfo any) {
}

func (m *NilMetrics) RecordQueueDepth(priority Priority, depth int) {
}

func (m *NilMetrics) RecordTaskRejected(priority Priority, reason string) {
}

func (m *NilMetrics) RecordTick(report TickReport) {
}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// Rejection reasons passed to RejectedTaskHandler and Metrics.
const (
	RejectReasonShutdown        = "shutdown"
	RejectReasonNilTask         = "nil task"
	RejectReasonInvalidPriority = "invalid priority"
)

// RejectedTaskHandler is called when Schedule refuses a task. This happens
// after Shutdown, or when the task itself is unusable.
//
// Implementations should be thread-safe: Schedule runs on producer goroutines.
type RejectedTaskHandler interface {
	HandleRejectedTask(taskName string, priority Priority, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(taskName string, priority Priority, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected",
		F("task", taskName),
		F("priority", priority),
		F("reason", reason),
	)
}

// =============================================================================
// TickObserver
// =============================================================================

// TickObserver receives the report of every tick, on the consumer goroutine.
type TickObserver interface {
	ObserveTick(ctx context.Context, report TickReport)
}

// TickObserverFunc adapts a function to TickObserver.
type TickObserverFunc func(ctx context.Context, report TickReport)

func (f TickObserverFunc) ObserveTick(ctx context.Context, report TickReport) {
	f(ctx, report)
}

// =============================================================================
// Config: Configuration for Scheduler
// =============================================================================

// Config holds configuration options for Scheduler.
// Zero values are replaced with defaults by NewScheduler; all handlers are
// optional.
type Config struct {
	// Weights are clamped into their allowed ranges.
	Weights Weights

	Starvation StarvationConfig

	// MaxPassesPerTick bounds the round-robin drain loop.
	MaxPassesPerTick int

	// TickBudget bounds the wall-clock time spent in the credit and
	// redistribution phases. Zero means unlimited. Forced LOW execution
	// ignores it.
	TickBudget time.Duration

	// SlowTaskThreshold is the duration above which a task is logged.
	SlowTaskThreshold time.Duration

	// OverflowWarnThreshold is the total pending count above which Schedule
	// logs a (rate limited) warning.
	OverflowWarnThreshold int

	HealthWarningThreshold  int
	HealthCriticalThreshold int

	// HealthThresholds rate failures and execution time in SystemHealth
	// and ProblematicModules.
	HealthThresholds HealthThresholds

	// HistorySize is the capacity of the execution history ring buffer.
	HistorySize int

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Logger defaults to NewDefaultLogger.
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler

	// TickObserver is optional.
	TickObserver TickObserver
}

// Default values used by DefaultConfig and NewScheduler.
const (
	DefaultMaxPassesPerTick        = 20
	DefaultSlowTaskThreshold       = time.Millisecond
	DefaultOverflowWarnThreshold   = 1000
	DefaultHealthWarningThreshold  = 500
	DefaultHealthCriticalThreshold = 1000
)

// DefaultConfig returns a config with default values and handlers.
func DefaultConfig() *Config {
	logger := NewDefaultLogger()
	return &Config{
		Weights:                 DefaultWeights(),
		Starvation:              DefaultStarvationConfig(),
		MaxPassesPerTick:        DefaultMaxPassesPerTick,
		SlowTaskThreshold:       DefaultSlowTaskThreshold,
		OverflowWarnThreshold:   DefaultOverflowWarnThreshold,
		HealthWarningThreshold:  DefaultHealthWarningThreshold,
		HealthCriticalThreshold: DefaultHealthCriticalThreshold,
		HealthThresholds:        DefaultHealthThresholds(),
		HistorySize:             defaultTaskHistoryCapacity,
		Clock:                   time.Now,
		Logger:                  logger,
		PanicHandler:            &DefaultPanicHandler{Logger: logger},
		Metrics:                 &NilMetrics{},
		RejectedTaskHandler:     &DefaultRejectedTaskHandler{Logger: logger},
	}
}

func (c Config) withDefaults() Config {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	c.Starvation = c.Starvation.withDefaults()
	if c.MaxPassesPerTick <= 0 {
		c.MaxPassesPerTick = DefaultMaxPassesPerTick
	}
	if c.TickBudget < 0 {
		c.TickBudget = 0
	}
	if c.SlowTaskThreshold <= 0 {
		c.SlowTaskThreshold = DefaultSlowTaskThreshold
	}
	if c.OverflowWarnThreshold <= 0 {
		c.OverflowWarnThreshold = DefaultOverflowWarnThreshold
	}
	if c.HealthWarningThreshold <= 0 {
		c.HealthWarningThreshold = DefaultHealthWarningThreshold
	}
	if c.HealthCriticalThreshold <= 0 {
		c.HealthCriticalThreshold = DefaultHealthCriticalThreshold
	}
	c.HealthThresholds = c.HealthThresholds.withDefaults()
	if c.HistorySize <= 0 {
		c.HistorySize = defaultTaskHistoryCapacity
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{Logger: c.Logger}
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: c.Logger}
	}
	return c
}
