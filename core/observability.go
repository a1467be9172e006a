package core

import (
	"strings"
	"time"
)

// ExecutionOrigin tells which phase of a tick ran a task.
type ExecutionOrigin uint8

const (
	OriginCredit ExecutionOrigin = iota
	OriginRedistributed
	OriginForced
)

func (o ExecutionOrigin) String() string {
	switch o {
	case OriginCredit:
		return "credit"
	case OriginRedistributed:
		return "redistributed"
	case OriginForced:
		return "forced"
	default:
		return "unknown"
	}
}

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Module     string
	Priority   Priority
	Origin     ExecutionOrigin
	Tick       uint64
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Wait       time.Duration
	Panicked   bool
}

// HealthStatus is derived from the total pending count.
type HealthStatus int

const (
	HealthHealthy HealthStatus = iota
	HealthWarning
	HealthCritical
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "HEALTHY"
	case HealthWarning:
		return "WARNING"
	case HealthCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// EvaluateHealth maps a pending count to a status. Thresholds are exclusive.
func EvaluateHealth(pending, warning, critical int) HealthStatus {
	switch {
	case pending > critical:
		return HealthCritical
	case pending > warning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// PriorityStats aggregates executions of one class.
type PriorityStats struct {
	Priority  Priority
	Pending   int
	Processed int64
	Failed    int64
	Forced    int64
	TotalExec time.Duration
	MaxExec   time.Duration
	TotalWait time.Duration
	MaxWait   time.Duration
}

func (p PriorityStats) AvgExec() time.Duration {
	if p.Processed == 0 {
		return 0
	}
	return p.TotalExec / time.Duration(p.Processed)
}

func (p PriorityStats) AvgWait() time.Duration {
	if p.Processed == 0 {
		return 0
	}
	return p.TotalWait / time.Duration(p.Processed)
}

// UnknownModule is used for task names without a "Module_" prefix.
const UnknownModule = "Unknown"

// ModuleOf returns the prefix before the first underscore of a task name.
func ModuleOf(taskName string) string {
	if i := strings.IndexByte(taskName, '_'); i > 0 {
		return taskName[:i]
	}
	return UnknownModule
}

// ModuleStats aggregates tasks by module prefix.
type ModuleStats struct {
	Module       string
	Submitted    int64
	Completed    int64
	Failed       int64
	TotalExec    time.Duration
	LastActivity time.Time
}

func (m ModuleStats) AvgExec() time.Duration {
	n := m.Completed + m.Failed
	if n == 0 {
		return 0
	}
	return m.TotalExec / time.Duration(n)
}

// FailureRate is the fraction of finished tasks that panicked.
func (m ModuleStats) FailureRate() float64 {
	n := m.Completed + m.Failed
	if n == 0 {
		return 0
	}
	return float64(m.Failed) / float64(n)
}

// Stats is a point-in-time snapshot of a scheduler.
type Stats struct {
	PendingHigh   int
	PendingNormal int
	PendingLow    int
	TotalPending  int

	TotalProcessed    int64
	ProcessedLastTick int
	TotalFailed       int64
	TotalForcedLow    int64
	TotalRejected     int64
	TotalDiscarded    int64
	Ticks             uint64

	TicksSinceLowExecution int
	OldestLowTaskAge       time.Duration

	Weights     Weights
	Health      HealthStatus
	ShutDown    bool
	PerPriority [numPriorities]PriorityStats
}

// Pending returns the pending count of class p.
func (s Stats) Pending(p Priority) int {
	switch p {
	case PriorityHigh:
		return s.PendingHigh
	case PriorityNormal:
		return s.PendingNormal
	case PriorityLow:
		return s.PendingLow
	default:
		return 0
	}
}

// TickReport describes what a single Tick did.
type TickReport struct {
	Tick      uint64
	StartedAt time.Time
	Duration  time.Duration
	Weights   Weights

	Credit        [numPriorities]int
	Redistributed [numPriorities]int
	Forced        int
	ForceReason   StarvationReason
	Failed        int

	Passes          int
	PassCapReached  bool
	BudgetExhausted bool
}

// Processed is the total number of tasks run in the tick.
func (r TickReport) Processed() int {
	n := r.Forced
	for _, p := range Priorities {
		n += r.Credit[p] + r.Redistributed[p]
	}
	return n
}

// ProcessedOf is the number of tasks of class p run in the tick.
func (r TickReport) ProcessedOf(p Priority) int {
	n := r.Credit[p] + r.Redistributed[p]
	if p == PriorityLow {
		n += r.Forced
	}
	return n
}
